package hardware

import "fmt"

// SafetyOptions 出币安全阈值
type SafetyOptions struct {
	CoinCountThreshold      int
	PaidMultiplierThreshold int
	AutoStop                bool
}

// DefaultSafetyOptions 单币种计数 200，已付超过请求的 5 倍，仅告警
func DefaultSafetyOptions() SafetyOptions {
	return SafetyOptions{
		CoinCountThreshold:      200,
		PaidMultiplierThreshold: 5,
	}
}

// EvaluatePayout 检查出币进度是否异常
func (o SafetyOptions) EvaluatePayout(status *PayoutStatus, requested int) []string {
	if status == nil {
		return nil
	}

	var anomalies []string
	if o.CoinCountThreshold > 0 {
		for i, c := range status.CoinCounts {
			if c > o.CoinCountThreshold {
				anomalies = append(anomalies,
					fmt.Sprintf("coin type %d count %d exceeds threshold %d", i+1, c, o.CoinCountThreshold))
			}
		}
	}
	if o.PaidMultiplierThreshold > 0 && requested > 0 && status.Paid > requested*o.PaidMultiplierThreshold {
		anomalies = append(anomalies,
			fmt.Sprintf("paid %d exceeds %dx requested amount %d", status.Paid, o.PaidMultiplierThreshold, requested))
	}
	return anomalies
}
