package endpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"syscall"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// dataPath 传感器数据接口路径
const dataPath = "/data"

// HTTPClient 通过 HTTP GET http://host:port/data 读取传感器
type HTTPClient struct {
	httpClient *resty.Client
	logger     *zap.Logger
}

// NewHTTPClient 创建 HTTP 轮询客户端（重试由调度器负责，这里重试次数为 0）
func NewHTTPClient(logger *zap.Logger) *HTTPClient {
	client := resty.New().
		SetRetryCount(0).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", "plantwatch-collector")

	return &HTTPClient{
		httpClient: client,
		logger:     logger,
	}
}

// Poll 实现 Client
func (c *HTTPClient) Poll(ctx context.Context, target Target) Result {
	if target.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, target.Timeout)
		defer cancel()
	}

	url := "http://" + net.JoinHostPort(target.Host, strconv.Itoa(target.Port)) + dataPath

	resp, err := c.httpClient.R().
		SetContext(ctx).
		Get(url)
	if err != nil {
		failure := classifyError(err)
		c.logger.Debug("Sensor poll failed",
			zap.String("sensor_id", target.SensorID),
			zap.String("url", url),
			zap.String("failure", failure.String()),
		)
		return Result{Failure: failure}
	}

	if resp.StatusCode() != http.StatusOK {
		return failed(FailureProtocol, "unexpected HTTP status %d", resp.StatusCode())
	}

	reading, err := decodePayload(resp.Body())
	if err != nil {
		return failed(FailureProtocol, "%v", err)
	}
	return Result{Reading: reading}
}

// classifyError 把网络错误映射到三类失败之一
// 建连阶段的其它错误（不可达、DNS 失败）归为 ConnectionRefused
func classifyError(err error) *PollFailure {
	if errors.Is(err, context.DeadlineExceeded) {
		return &PollFailure{Kind: FailureTimeout, Detail: "deadline exceeded"}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &PollFailure{Kind: FailureTimeout, Detail: netErr.Error()}
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return &PollFailure{Kind: FailureConnectionRefused, Detail: "connection refused"}
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return &PollFailure{Kind: FailureConnectionRefused, Detail: opErr.Error()}
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return &PollFailure{Kind: FailureConnectionRefused, Detail: dnsErr.Error()}
	}
	return &PollFailure{Kind: FailureProtocol, Detail: err.Error()}
}

// wirePayload 传感器 /data 报文
type wirePayload struct {
	Count   *int64   `json:"count"`
	Value   *float64 `json:"value"`
	Unit    *string  `json:"unit"`
	Status  *string  `json:"status"`
	Quality *float64 `json:"quality"`
}

func decodePayload(body []byte) (*RawReading, error) {
	var p wirePayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("invalid payload: %w", err)
	}

	status := ""
	if p.Status != nil {
		status = strings.ToLower(strings.TrimSpace(*p.Status))
	}
	switch status {
	case "", "ok", "warning", "error":
	default:
		return nil, fmt.Errorf("unknown status %q", status)
	}

	if p.Count == nil && p.Value == nil {
		return nil, errors.New("payload carries neither value nor count")
	}

	return &RawReading{
		Count:   p.Count,
		Value:   p.Value,
		Unit:    p.Unit,
		Status:  status,
		Quality: p.Quality,
		Payload: json.RawMessage(append([]byte(nil), body...)),
	}, nil
}
