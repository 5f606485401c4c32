package httpapi

import (
	"net/http"

	"github.com/heptiolabs/healthcheck"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Router 使用标准库 http.ServeMux（方法 + 路径模式）
type Router struct {
	mux    *http.ServeMux
	logger *zap.Logger
}

func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		mux:    http.NewServeMux(),
		logger: logger,
	}
}

func (r *Router) Handle(pattern string, h http.HandlerFunc) {
	r.mux.HandleFunc(pattern, h)
}

// HandleHandler 支持 http.Handler 接口（用于 promhttp 等）
func (r *Router) HandleHandler(pattern string, h http.Handler) {
	r.mux.Handle(pattern, h)
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// RegisterAPIRoutes 注册 /api/v1 路由
func (r *Router) RegisterAPIRoutes(a *API) {
	// collect
	r.Handle("POST /api/v1/collect", a.Collect)

	// sensors
	r.Handle("GET /api/v1/sensors", a.ListSensors)
	r.Handle("POST /api/v1/sensors", a.CreateSensor)
	r.Handle("GET /api/v1/sensors/export", a.ExportSensors)
	r.Handle("GET /api/v1/sensors/import-template", a.ImportTemplate)
	r.Handle("POST /api/v1/sensors/import", a.ImportSensors)
	r.Handle("GET /api/v1/sensors/{id}", a.GetSensor)
	r.Handle("PUT /api/v1/sensors/{id}", a.UpdateSensor)
	r.Handle("POST /api/v1/sensors/{id}/activate", a.setActive(true))
	r.Handle("POST /api/v1/sensors/{id}/deactivate", a.setActive(false))
	r.Handle("GET /api/v1/sensors/{id}/status", a.SensorStatus)
	r.Handle("GET /api/v1/sensors/{id}/readings", a.SensorReadings)
	r.Handle("GET /api/v1/sensors/{id}/latest", a.LatestReading)
	r.Handle("GET /api/v1/sensors/{id}/report", a.SensorReport)

	// alerts
	r.Handle("GET /api/v1/alerts", a.ListAlerts)
	r.Handle("POST /api/v1/alerts/{id}/resolve", a.ResolveAlert)

	// retention
	r.Handle("POST /api/v1/retention/sweep", a.Sweep)
}

// RegisterOpsRoutes 注册 /metrics、/live、/ready
func (r *Router) RegisterOpsRoutes(health healthcheck.Handler) {
	r.HandleHandler("GET /metrics", promhttp.Handler())
	r.Handle("GET /live", health.LiveEndpoint)
	r.Handle("GET /ready", health.ReadyEndpoint)
}
