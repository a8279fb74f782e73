package models

import (
	"fmt"
)

// evidenceSchemas lists the evidence keys a well-known signal type must
// carry when it attaches evidence at all. Types not listed here are open:
// strategies may emit whatever shape they want.
var evidenceSchemas = map[string][]string{
	SignalLaunchDetected: {"txHash", "blockNumber"},
	SignalConcentration:  {"top10Percent", "creatorPercent", "holderCount"},
	SignalLiquidityRisk:  {"deltaPercent"},
	SignalCoverageReport: {"detectedCount", "estimatedTotal", "coveragePercent"},
	SignalWalletRotation: {"dropPercent"},
}

// ValidateEvidence checks a signal's evidence bag against the schema for
// its type. A nil or empty bag is always accepted; a populated bag on a
// well-known type must carry that type's required keys.
func ValidateEvidence(signalType string, evidence map[string]interface{}) error {
	if len(evidence) == 0 {
		return nil
	}
	required, ok := evidenceSchemas[signalType]
	if !ok {
		return nil
	}
	for _, key := range required {
		if _, present := evidence[key]; !present {
			return fmt.Errorf("signal type %s requires evidence key %q", signalType, key)
		}
	}
	return nil
}
