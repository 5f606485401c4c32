package httpapi

import (
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"plantwatch-collector/internal/models"
	"plantwatch-collector/internal/registry"
	"plantwatch-collector/internal/scheduler"

	"go.uber.org/zap"
)

const (
	xlsxContentType   = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	maxImportBytes    = 10 << 20
	defaultReadLimit  = 1000
	defaultReportSpan = 24 * time.Hour
)

// Collect 立即采集
// POST /api/v1/collect {sensor_id?, simulate?}
func (a *API) Collect(w http.ResponseWriter, r *http.Request) {
	var req scheduler.TriggerRequest
	if err := readBodyJSON(r, maxBodyBytes, &req); err != nil {
		writeError(w, a.logger, "Collect", err)
		return
	}

	report, err := a.Trigger.RunNow(r.Context(), req)
	if err != nil {
		if report == nil {
			writeError(w, a.logger, "Collect", err)
			return
		}
		// 部分传感器存储失败：周期已完成，仍返回报告
		a.logger.Error("Collect finished with storage errors", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Result[any]{Code: ResultError, Type: "error", Message: err.Error(), Result: report})
		return
	}
	writeJSON(w, http.StatusOK, Ok(report))
}

// ListSensors GET /api/v1/sensors
func (a *API) ListSensors(w http.ResponseWriter, r *http.Request) {
	views, err := a.Registry.List(r.Context())
	if err != nil {
		writeError(w, a.logger, "ListSensors", err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(views))
}

// CreateSensor POST /api/v1/sensors
func (a *API) CreateSensor(w http.ResponseWriter, r *http.Request) {
	var in registry.SensorInput
	if err := readBodyJSON(r, maxBodyBytes, &in); err != nil {
		writeError(w, a.logger, "CreateSensor", err)
		return
	}
	sensor, err := a.Registry.Create(r.Context(), in)
	if err != nil {
		writeError(w, a.logger, "CreateSensor", err)
		return
	}
	writeJSON(w, http.StatusCreated, Ok(sensor))
}

// GetSensor GET /api/v1/sensors/{id}
func (a *API) GetSensor(w http.ResponseWriter, r *http.Request) {
	view, err := a.Registry.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, a.logger, "GetSensor", err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(view))
}

// UpdateSensor PUT /api/v1/sensors/{id}
func (a *API) UpdateSensor(w http.ResponseWriter, r *http.Request) {
	var in registry.SensorInput
	if err := readBodyJSON(r, maxBodyBytes, &in); err != nil {
		writeError(w, a.logger, "UpdateSensor", err)
		return
	}
	sensor, err := a.Registry.Update(r.Context(), r.PathValue("id"), in)
	if err != nil {
		writeError(w, a.logger, "UpdateSensor", err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(sensor))
}

func (a *API) setActive(active bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sensor, err := a.Registry.SetActive(r.Context(), r.PathValue("id"), active)
		if err != nil {
			writeError(w, a.logger, "SetActive", err)
			return
		}
		writeJSON(w, http.StatusOK, Ok(sensor))
	}
}

// SensorStatus GET /api/v1/sensors/{id}/status
func (a *API) SensorStatus(w http.ResponseWriter, r *http.Request) {
	status, err := a.sensorStatus(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, a.logger, "SensorStatus", err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(status))
}

// SensorReadings GET /api/v1/sensors/{id}/readings?start=&end=&limit=
// 按采集时间升序
func (a *API) SensorReadings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sensorID := r.PathValue("id")

	start, err := parseTimeQuery(r, "start")
	if err != nil {
		writeError(w, a.logger, "SensorReadings", err)
		return
	}
	end, err := parseTimeQuery(r, "end")
	if err != nil {
		writeError(w, a.logger, "SensorReadings", err)
		return
	}
	limit, err := parseIntQuery(r, "limit", defaultReadLimit)
	if err != nil {
		writeError(w, a.logger, "SensorReadings", err)
		return
	}
	if limit < 0 {
		writeError(w, a.logger, "SensorReadings", models.NewValidationError("limit", "must not be negative"))
		return
	}

	if _, err := a.Registry.Get(ctx, sensorID); err != nil {
		writeError(w, a.logger, "SensorReadings", err)
		return
	}
	readings, err := a.Readings.QueryReadings(ctx, sensorID, models.ReadingFilters{Start: start, End: end, Limit: limit})
	if err != nil {
		writeError(w, a.logger, "SensorReadings", err)
		return
	}
	if readings == nil {
		readings = []models.Reading{}
	}
	writeJSON(w, http.StatusOK, Ok(readings))
}

// LatestReading GET /api/v1/sensors/{id}/latest
func (a *API) LatestReading(w http.ResponseWriter, r *http.Request) {
	reading, err := a.latestReading(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, a.logger, "LatestReading", err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(reading))
}

// SensorReport GET /api/v1/sensors/{id}/report?start=&end=
// 缺省为最近 24 小时
func (a *API) SensorReport(w http.ResponseWriter, r *http.Request) {
	start, err := parseTimeQuery(r, "start")
	if err != nil {
		writeError(w, a.logger, "SensorReport", err)
		return
	}
	end, err := parseTimeQuery(r, "end")
	if err != nil {
		writeError(w, a.logger, "SensorReport", err)
		return
	}
	if end == nil {
		now := a.now().UTC()
		end = &now
	}
	if start == nil {
		s := end.Add(-defaultReportSpan)
		start = &s
	}

	rep, err := a.Reports.Generate(r.Context(), r.PathValue("id"), *start, *end)
	if err != nil {
		writeError(w, a.logger, "SensorReport", err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(rep))
}

// ExportSensors GET /api/v1/sensors/export
func (a *API) ExportSensors(w http.ResponseWriter, r *http.Request) {
	data, err := a.Registry.Export(r.Context())
	if err != nil {
		writeError(w, a.logger, "ExportSensors", err)
		return
	}
	writeXLSX(w, "sensors-export.xlsx", data)
}

// ImportTemplate GET /api/v1/sensors/import-template
func (a *API) ImportTemplate(w http.ResponseWriter, r *http.Request) {
	data, err := registry.GenerateImportTemplate()
	if err != nil {
		writeError(w, a.logger, "ImportTemplate", err)
		return
	}
	writeXLSX(w, "sensors-import-template.xlsx", data)
}

// ImportSensors POST /api/v1/sensors/import
// multipart 表单的 file 字段，或直接以 xlsx 作为请求体
func (a *API) ImportSensors(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxImportBytes)
	var body io.Reader = r.Body

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if strings.HasPrefix(mediaType, "multipart/") {
		if err := r.ParseMultipartForm(maxImportBytes); err != nil {
			writeError(w, a.logger, "ImportSensors", models.NewValidationError("file", "failed to parse form: %v", err))
			return
		}
		file, _, err := r.FormFile("file")
		if err != nil {
			writeError(w, a.logger, "ImportSensors", models.NewValidationError("file", "file not found in request"))
			return
		}
		defer file.Close()
		body = file
	}

	result, err := a.Registry.Import(r.Context(), body)
	if err != nil {
		writeError(w, a.logger, "ImportSensors", err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(result))
}

// ListAlerts GET /api/v1/alerts?sensor_id=&open=&limit=
// 最新的在前
func (a *API) ListAlerts(w http.ResponseWriter, r *http.Request) {
	open, err := parseBoolQuery(r, "open")
	if err != nil {
		writeError(w, a.logger, "ListAlerts", err)
		return
	}
	limit, err := parseIntQuery(r, "limit", 0)
	if err != nil {
		writeError(w, a.logger, "ListAlerts", err)
		return
	}

	alerts, err := a.Alerts.ListAlerts(r.Context(), models.AlertFilters{
		SensorID: r.URL.Query().Get("sensor_id"),
		OpenOnly: open,
		Limit:    limit,
	})
	if err != nil {
		writeError(w, a.logger, "ListAlerts", err)
		return
	}
	if alerts == nil {
		alerts = []models.Alert{}
	}
	writeJSON(w, http.StatusOK, Ok(alerts))
}

// ResolveAlert POST /api/v1/alerts/{id}/resolve
func (a *API) ResolveAlert(w http.ResponseWriter, r *http.Request) {
	alert, err := a.resolveAlert(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, a.logger, "ResolveAlert", err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(alert))
}

type sweepRequest struct {
	HorizonDays *int `json:"horizon_days"`
}

// Sweep POST /api/v1/retention/sweep {horizon_days?}
func (a *API) Sweep(w http.ResponseWriter, r *http.Request) {
	var req sweepRequest
	if err := readBodyJSON(r, maxBodyBytes, &req); err != nil {
		writeError(w, a.logger, "Sweep", err)
		return
	}
	horizon := a.HorizonDays
	if req.HorizonDays != nil {
		horizon = *req.HorizonDays
	}

	deleted, err := a.Sweeper.Sweep(r.Context(), horizon)
	if err != nil {
		writeError(w, a.logger, "Sweep", err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(map[string]any{
		"deleted":      deleted,
		"horizon_days": horizon,
	}))
}

func writeXLSX(w http.ResponseWriter, filename string, data []byte) {
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
