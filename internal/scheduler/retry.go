package scheduler

import "time"

// RetryPolicy 轮询失败后的有界重试策略
// attempt 从 1 开始；超过 MaxAttempts 后传感器回到正常的到期调度
type RetryPolicy struct {
	MaxAttempts int
	Delay       func(attempt int) time.Duration
}

// Next 第 attempt 次重试前的等待时间；不再重试时返回 false
func (p RetryPolicy) Next(attempt int) (time.Duration, bool) {
	if attempt <= 0 || attempt > p.MaxAttempts || p.Delay == nil {
		return 0, false
	}
	return p.Delay(attempt), true
}

// ExponentialBackoff slot*2^(attempt-1)，不超过 maximum
// 不加随机抖动，重试时间可预期、可测试
func ExponentialBackoff(slot, maximum time.Duration) func(attempt int) time.Duration {
	return func(attempt int) time.Duration {
		if slot <= 0 || attempt <= 0 {
			return 0
		}
		backoff := slot
		for i := 1; i < attempt; i++ {
			if backoff >= maximum/2 {
				return maximum
			}
			backoff *= 2
		}
		if backoff > maximum {
			return maximum
		}
		return backoff
	}
}

// NoRetry 不重试
var NoRetry = RetryPolicy{}
