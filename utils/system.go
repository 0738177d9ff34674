package utils

import (
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v3/cpu"
	log "github.com/sirupsen/logrus"
)

// GetOptimalWorkerCount resolves a concurrency setting. A positive integer is used
// as-is; "auto" (or anything unparsable) derives a value from the logical CPU count,
// clamped to [1, ceiling].
func GetOptimalWorkerCount(configValue string, ceiling int) int {
	if ceiling < 1 {
		ceiling = 1
	}
	configValue = strings.TrimSpace(configValue)

	if manualWorkers, err := strconv.Atoi(configValue); err == nil && manualWorkers > 0 {
		return manualWorkers
	}
	if configValue != "auto" && configValue != "" {
		log.Warnf("Invalid workers value '%s'. Defaulting to 'auto' mode.", configValue)
	}

	// Logical cores: requests are I/O bound.
	cpuCores, err := cpu.Counts(true)
	if err != nil {
		log.Warnf("Could not detect CPU cores (%v). Falling back to %d workers.", err, min(2, ceiling))
		return min(2, ceiling)
	}

	optimalCount := max(cpuCores/2, 1)
	optimalCount = min(optimalCount, ceiling)

	log.Debugf("System has %d logical cores, using %d workers", cpuCores, optimalCount)
	return optimalCount
}
