package service

import (
	"strings"

	"crypto-payment-gateway/pkg/apperror"

	"github.com/ethereum/go-ethereum/common"
)

// NormalizeWalletAddress validates a 20-byte hex address, with or without 0x
// and in any case, and returns its EIP-55 checksummed form. The zero address is rejected.
func NormalizeWalletAddress(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if !common.IsHexAddress(s) {
		return "", apperror.ErrInvalidAddress()
	}

	addr := common.HexToAddress(s)
	if addr == (common.Address{}) {
		return "", apperror.ErrInvalidAddress()
	}
	return addr.Hex(), nil
}
