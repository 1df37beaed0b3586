//go:build !linux

package main

import (
	"go.uber.org/zap"

	"github.com/edgeflow/kilnd/internal/hal"
)

// initHAL has no real GPIO/SPI backend to offer off Linux, matching the
// teacher's hal_init_other.go.
func initHAL(log *zap.Logger) hal.HAL {
	log.Info("non-Linux platform detected, using mock HAL")
	return hal.NewMockHAL()
}
