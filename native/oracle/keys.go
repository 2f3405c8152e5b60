package oracle

import "encoding/binary"

var (
	paramsKeyBytes       = []byte("oracle/params")
	providerRecordPrefix = []byte("oracle/provider/")
	historyMetaPrefix    = []byte("oracle/history/meta/")
	historySlotPrefix    = []byte("oracle/history/slot/")
	lastSubmissionPrefix = []byte("oracle/last/")
	submitterIndexPrefix = []byte("oracle/submitters/")
)

func paramsKey() []byte {
	return append([]byte(nil), paramsKeyBytes...)
}

func providerRecordKey(provider ProviderID) []byte {
	buf := make([]byte, len(providerRecordPrefix)+len(provider))
	copy(buf, providerRecordPrefix)
	copy(buf[len(providerRecordPrefix):], provider[:])
	return buf
}

func historyMetaKey(asset AssetID) []byte {
	buf := make([]byte, len(historyMetaPrefix)+len(asset))
	copy(buf, historyMetaPrefix)
	copy(buf[len(historyMetaPrefix):], asset[:])
	return buf
}

// historySlotKey addresses one ring-buffer slot. Slots are identified by a
// monotonically increasing sequence number, never reused after eviction.
func historySlotKey(asset AssetID, seq uint64) []byte {
	buf := make([]byte, len(historySlotPrefix)+len(asset)+8)
	copy(buf, historySlotPrefix)
	copy(buf[len(historySlotPrefix):], asset[:])
	binary.BigEndian.PutUint64(buf[len(historySlotPrefix)+len(asset):], seq)
	return buf
}

func lastSubmissionKey(asset AssetID, provider ProviderID) []byte {
	buf := make([]byte, len(lastSubmissionPrefix)+len(asset)+len(provider))
	copy(buf, lastSubmissionPrefix)
	copy(buf[len(lastSubmissionPrefix):], asset[:])
	copy(buf[len(lastSubmissionPrefix)+len(asset):], provider[:])
	return buf
}

func submitterIndexKey(asset AssetID) []byte {
	buf := make([]byte, len(submitterIndexPrefix)+len(asset))
	copy(buf, submitterIndexPrefix)
	copy(buf[len(submitterIndexPrefix):], asset[:])
	return buf
}
