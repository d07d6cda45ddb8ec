package httpapi

import (
	"errors"
	"math"
	"net/http"
	"strings"
	"time"

	"wisefido-attendance/internal/domain"
	"wisefido-attendance/internal/geo"
	"wisefido-attendance/internal/repository"
	"wisefido-attendance/internal/service"

	"go.uber.org/zap"
)

const maxBodyBytes = 64 << 10

// estado 取值
var estadoOf = map[domain.DailyStatus]string{
	domain.StatusPending:             "pendiente",
	domain.StatusConfirmationOpen:    "disponible",
	domain.StatusConfirmed:           "confirmado",
	domain.StatusConfirmedOutOfRange: "fuera_de_rango",
	domain.StatusMissed:              "vencido",
}

// AttendanceHandler 到岗确认接口
type AttendanceHandler struct {
	svc    *service.AttendanceService
	logger *zap.Logger
}

func NewAttendanceHandler(svc *service.AttendanceService, logger *zap.Logger) *AttendanceHandler {
	return &AttendanceHandler{svc: svc, logger: logger}
}

// ---- response DTOs ----

type puntoDTO struct {
	Latitud  float64 `json:"latitud"`
	Longitud float64 `json:"longitud"`
}

type ubicacionDTO struct {
	UbicacionID string    `json:"ubicacion_id"`
	Nombre      string    `json:"nombre"`
	Descripcion string    `json:"descripcion"`
	Forma       string    `json:"forma"`
	Latitud     float64   `json:"latitud"`
	Longitud    float64   `json:"longitud"`
	Rango       float64   `json:"rango"`
	RadioMetros float64   `json:"radio_metros"`
	Noroeste    *puntoDTO `json:"noroeste,omitempty"`
	Sureste     *puntoDTO `json:"sureste,omitempty"`
}

type ventanaDTO struct {
	Desde string `json:"desde"`
	Hasta string `json:"hasta"`
}

type horarioDTO struct {
	Inicio              string     `json:"inicio"`
	Fin                 string     `json:"fin"`
	VentanaConfirmacion ventanaDTO `json:"ventana_confirmacion"`
}

type confirmacionDTO struct {
	HoraMarcaje     time.Time `json:"hora_marcaje"`
	DentroUbicacion bool      `json:"dentro_ubicacion"`
	DistanciaMetros float64   `json:"distancia_metros"`
}

type asignacionDTO struct {
	AsignacionID   string           `json:"asignacion_id"`
	Ubicacion      *ubicacionDTO    `json:"ubicacion"`
	Horario        horarioDTO       `json:"horario"`
	Estado         string           `json:"estado"`
	PuedeConfirmar bool             `json:"puede_confirmar"`
	Confirmacion   *confirmacionDTO `json:"confirmacion,omitempty"`
}

type historialDTO struct {
	ConfirmacionID  string        `json:"confirmacion_id"`
	AsignacionID    string        `json:"asignacion_id"`
	Fecha           string        `json:"fecha"`
	HoraMarcaje     time.Time     `json:"hora_marcaje"`
	Latitud         float64       `json:"latitud"`
	Longitud        float64       `json:"longitud"`
	PrecisionMetros *float64      `json:"precision_metros,omitempty"`
	DentroUbicacion bool          `json:"dentro_ubicacion"`
	DistanciaMetros float64       `json:"distancia_metros"`
	Observaciones   string        `json:"observaciones,omitempty"`
	Ubicacion       *ubicacionDTO `json:"ubicacion,omitempty"`
}

type posicionDTO struct {
	Latitud                float64   `json:"latitud"`
	Longitud               float64   `json:"longitud"`
	PrecisionMetros        float64   `json:"precision_metros"`
	Altitud                *float64  `json:"altitud,omitempty"`
	PrecisionAltitudMetros *float64  `json:"precision_altitud_metros,omitempty"`
	Rumbo                  *float64  `json:"rumbo,omitempty"`
	Velocidad              *float64  `json:"velocidad,omitempty"`
	Fuente                 string    `json:"fuente"`
	Proveedor              string    `json:"proveedor,omitempty"`
	Intentos               int       `json:"intentos"`
	PuntajeCalidad         int       `json:"puntaje_calidad"`
	NivelCalidad           string    `json:"nivel_calidad"`
	Recomendaciones        []string  `json:"recomendaciones,omitempty"`
	Marca                  time.Time `json:"marca"`
}

func toUbicacion(loc *domain.Location) *ubicacionDTO {
	if loc == nil {
		return nil
	}
	center := loc.Area.Centroid()
	out := &ubicacionDTO{
		UbicacionID: loc.LocationID,
		Nombre:      loc.Name,
		Descripcion: loc.Description,
		Forma:       string(loc.Area.Shape),
		Latitud:     center.Latitude,
		Longitud:    center.Longitude,
	}
	if loc.Area.Shape == domain.ShapeRectangle {
		out.RadioMetros = geo.DistanceMeters(center, loc.Area.Northwest)
		out.Noroeste = &puntoDTO{Latitud: loc.Area.Northwest.Latitude, Longitud: loc.Area.Northwest.Longitude}
		out.Sureste = &puntoDTO{Latitud: loc.Area.Southeast.Latitude, Longitud: loc.Area.Southeast.Longitude}
	} else {
		out.RadioMetros = loc.Area.RadiusM
	}
	out.Rango = out.RadioMetros
	return out
}

func toAsignacion(it service.TodayItem) asignacionDTO {
	a := it.Assignment
	dto := asignacionDTO{
		AsignacionID: a.AssignmentID,
		Ubicacion:    toUbicacion(a.Location),
		Horario: horarioDTO{
			Inicio: a.WorkWindow.Start.String(),
			Fin:    a.WorkWindow.End.String(),
			VentanaConfirmacion: ventanaDTO{
				Desde: a.ConfirmationWindow.Start.String(),
				Hasta: a.ConfirmationWindow.End.String(),
			},
		},
		Estado:         estadoOf[it.Status],
		PuedeConfirmar: it.CanConfirm,
	}
	if it.Record != nil {
		dto.Confirmacion = &confirmacionDTO{
			HoraMarcaje:     it.Record.SubmittedAt,
			DentroUbicacion: it.Record.WithinGeofence,
			DistanciaMetros: it.Record.DistanceM,
		}
	}
	return dto
}

// Today GET /attendance/api/v1/today
func (h *AttendanceHandler) Today(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.TodayAssignments(r.Context(), SessionFrom(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make([]asignacionDTO, 0, len(items))
	for _, it := range items {
		out = append(out, toAsignacion(it))
	}
	writeJSON(w, http.StatusOK, Ok(out))
}

type confirmRequest struct {
	AsignacionID    string   `json:"asignacion_id"`
	Latitud         *float64 `json:"latitud"`
	Longitud        *float64 `json:"longitud"`
	PrecisionMetros *float64 `json:"precision_metros"`
	Observaciones   string   `json:"observaciones"`
}

type confirmResponse struct {
	DentroUbicacion bool    `json:"dentro_ubicacion"`
	DistanciaMetros float64 `json:"distancia_metros"`
	RadioPermitido  float64 `json:"radio_permitido"`
}

// Confirm POST /attendance/api/v1/confirm
func (h *AttendanceHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	var req confirmRequest
	if err := readBodyJSON(r, maxBodyBytes, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail(CodeBadRequest, "invalid body: "+err.Error()))
		return
	}
	if strings.TrimSpace(req.AsignacionID) == "" {
		writeJSON(w, http.StatusBadRequest, Fail(CodeBadRequest, "asignacion_id is required"))
		return
	}
	res, err := h.svc.Confirm(r.Context(), SessionFrom(r.Context()), service.ConfirmRequest{
		AssignmentID: strings.TrimSpace(req.AsignacionID),
		Position:     coordinateOf(req.Latitud, req.Longitud),
		AccuracyM:    req.PrecisionMetros,
		Observations: strings.TrimSpace(req.Observaciones),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(confirmResponse{
		DentroUbicacion: res.Record.WithinGeofence,
		DistanciaMetros: res.Record.DistanceM,
		RadioPermitido:  res.Classification.AllowedRadiusM,
	}))
}

// coordinateOf 缺失的分量置为 NaN，由 service 按坐标无效拒绝
func coordinateOf(lat, lng *float64) domain.Coordinate {
	c := domain.Coordinate{Latitude: math.NaN(), Longitude: math.NaN()}
	if lat != nil {
		c.Latitude = *lat
	}
	if lng != nil {
		c.Longitude = *lng
	}
	return c
}

// History GET /attendance/api/v1/history?fecha_inicio=&fecha_fin=&limite=
func (h *AttendanceHandler) History(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := repository.HistoryFilter{
		From:  strings.TrimSpace(q.Get("fecha_inicio")),
		To:    strings.TrimSpace(q.Get("fecha_fin")),
		Limit: parseInt(q.Get("limite"), service.DefaultHistoryLimit),
	}
	items, err := h.svc.History(r.Context(), SessionFrom(r.Context()), filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make([]historialDTO, 0, len(items))
	for _, it := range items {
		rec := it.Record
		out = append(out, historialDTO{
			ConfirmacionID:  rec.ConfirmationID,
			AsignacionID:    rec.AssignmentID,
			Fecha:           rec.Date,
			HoraMarcaje:     rec.SubmittedAt,
			Latitud:         rec.Latitude,
			Longitud:        rec.Longitude,
			PrecisionMetros: rec.AccuracyM,
			DentroUbicacion: rec.WithinGeofence,
			DistanciaMetros: rec.DistanceM,
			Observaciones:   rec.Observations,
			Ubicacion:       toUbicacion(it.Location),
		})
	}
	writeJSON(w, http.StatusOK, Ok(out))
}

type positionRequest struct {
	AltaPrecision *bool `json:"alta_precision"`
	TimeoutMs     int64 `json:"timeout_ms"`
	MaxAgeMs      int64 `json:"max_age_ms"`
	Intentos      int   `json:"intentos"`
}

// Position POST /attendance/api/v1/position
func (h *AttendanceHandler) Position(w http.ResponseWriter, r *http.Request) {
	var req positionRequest
	if err := readBodyJSON(r, maxBodyBytes, &req); err != nil && !errors.Is(err, errEmptyBody) {
		writeJSON(w, http.StatusBadRequest, Fail(CodeBadRequest, "invalid body: "+err.Error()))
		return
	}
	if req.TimeoutMs < 0 || req.MaxAgeMs < 0 || req.Intentos < 0 || req.Intentos > 10 {
		writeJSON(w, http.StatusBadRequest, Fail(CodeBadRequest, "timeout_ms, max_age_ms and intentos must be in range"))
		return
	}

	pos, err := h.svc.AcquirePosition(r.Context(), SessionFrom(r.Context()), service.PositionRequest{
		HighAccuracy:  req.AltaPrecision,
		Timeout:       time.Duration(req.TimeoutMs) * time.Millisecond,
		MaxAge:        time.Duration(req.MaxAgeMs) * time.Millisecond,
		MaxAttempts:   req.Intentos,
		ClientIP:      clientIP(r),
		SecureContext: secureContext(r),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(posicionDTO{
		Latitud:                pos.Latitude,
		Longitud:               pos.Longitude,
		PrecisionMetros:        pos.AccuracyM,
		Altitud:                pos.AltitudeM,
		PrecisionAltitudMetros: pos.AltitudeAccuracyM,
		Rumbo:                  pos.Heading,
		Velocidad:              pos.SpeedMPS,
		Fuente:                 string(pos.Source),
		Proveedor:              pos.Provider,
		Intentos:               pos.Attempts,
		PuntajeCalidad:         pos.Quality.Score,
		NivelCalidad:           string(pos.Quality.Level),
		Recomendaciones:        pos.Quality.Recommendations,
		Marca:                  pos.Timestamp,
	}))
}
