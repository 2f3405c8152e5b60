package events

import (
	"encoding/hex"
	"math/big"
	"strconv"
	"strings"
)

func formatAmount(amount *big.Int) string {
	if amount == nil {
		return "0"
	}
	return amount.String()
}

func intToString(value int64) string {
	return strconv.FormatInt(value, 10)
}

func uintToString(value uint64) string {
	return strconv.FormatUint(value, 10)
}

func assetHex(id [32]byte) string {
	return "0x" + hex.EncodeToString(id[:])
}

func addressHex(addr [20]byte) string {
	return "0x" + hex.EncodeToString(addr[:])
}

func trimReason(reason string) string {
	return strings.TrimSpace(reason)
}
