//go:build linux

package main

import (
	"runtime"

	"go.uber.org/zap"

	"github.com/edgeflow/kilnd/internal/hal"
)

// initHAL picks the real Raspberry Pi GPIO/SPI backend on ARM Linux and
// falls back to the in-memory mock everywhere else, mirroring the
// teacher's hal_init_linux.go arch check.
func initHAL(log *zap.Logger) hal.HAL {
	if runtime.GOARCH != "arm64" && runtime.GOARCH != "arm" {
		log.Info("non-ARM Linux platform detected, using mock HAL")
		return hal.NewMockHAL()
	}

	rpiHAL, err := hal.NewRaspberryPiHAL()
	if err != nil {
		log.Warn("failed to initialize Raspberry Pi HAL, falling back to mock",
			zap.Error(err))
		return hal.NewMockHAL()
	}
	log.Info("Raspberry Pi HAL initialized", zap.String("board", rpiHAL.Info().Name))
	return rpiHAL
}
