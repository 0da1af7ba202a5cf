package main

import (
	"fmt"
	"strconv"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

func parseIndex(str string) (uint32, error) {
	index, err := strconv.ParseUint(str, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid index %q: %w", str, err)
	}

	return uint32(index), nil
}

func parseValue(str string) (int64, error) {
	value, err := strconv.ParseInt(str, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid value %q: %w", str, err)
	}
	if value < 0 {
		return 0, fmt.Errorf("invalid value %q: must not be negative",
			str)
	}

	return value, nil
}

func parseHeight(str string, max uint64) (uint64, error) {
	height, err := strconv.ParseUint(str, 10, 64)
	if err != nil || height > max {
		return 0, fmt.Errorf("invalid height %q: must be between 0 "+
			"and %d", str, max)
	}

	return height, nil
}

func parseOutPoint(str string) (wire.OutPoint, error) {
	op, err := wire.NewOutPointFromString(str)
	if err != nil {
		return wire.OutPoint{}, fmt.Errorf("invalid outpoint %q, "+
			"expected txid:vout: %w", str, err)
	}

	return *op, nil
}

func parseTxid(str string) (chainhash.Hash, error) {
	txid, err := chainhash.NewHashFromStr(str)
	if err != nil {
		return chainhash.Hash{}, fmt.Errorf("invalid txid %q: %w", str,
			err)
	}

	return *txid, nil
}
