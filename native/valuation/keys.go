package valuation

import "valuechain/native/oracle"

var (
	paramsKeyBytes = []byte("valuation/params")
	resultPrefix   = []byte("valuation/result/")
	pendingPrefix  = []byte("valuation/pending/")
)

func paramsKey() []byte {
	return append([]byte(nil), paramsKeyBytes...)
}

func resultKey(asset oracle.AssetID) []byte {
	buf := make([]byte, len(resultPrefix)+len(asset))
	copy(buf, resultPrefix)
	copy(buf[len(resultPrefix):], asset[:])
	return buf
}

func pendingKey(asset oracle.AssetID) []byte {
	buf := make([]byte, len(pendingPrefix)+len(asset))
	copy(buf, pendingPrefix)
	copy(buf[len(pendingPrefix):], asset[:])
	return buf
}
