package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"led-bridge/internal/model"
	"led-bridge/internal/store"
)

// Bridge reports connectivity for the health endpoint.
type Bridge interface {
	StatusConnected() bool
}

type Server struct {
	devices *store.DeviceRegistry
	media   *store.MediaCatalog
	ws      http.Handler
	bridge  Bridge

	storageRoot string
	maxUpload   int64
	jwtSecret   string
}

func NewServer(devices *store.DeviceRegistry, media *store.MediaCatalog, ws http.Handler, bridge Bridge, storageRoot string, maxUpload int64, jwtSecret string) *Server {
	return &Server{
		devices:     devices,
		media:       media,
		ws:          ws,
		bridge:      bridge,
		storageRoot: storageRoot,
		maxUpload:   maxUpload,
		jwtSecret:   jwtSecret,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	if s.ws != nil {
		r.Handle("/ws", s.ws)
	}
	// storage_url targets resolve here on both catalog and fallback listings.
	r.Handle("/music/*", http.StripPrefix("/music/", http.FileServer(http.Dir(s.storageRoot))))

	r.Route("/api", func(api chi.Router) {
		if s.jwtSecret != "" {
			api.Use(BearerAuth(s.jwtSecret))
		}
		api.Post("/devices/register", s.handleDeviceRegister)
		api.Get("/devices", s.handleDeviceList)
		api.Get("/devices/{id}", s.handleDeviceGet)
		api.Post("/devices/{id}/wifi", s.handleDeviceWifi)
		api.Post("/music/upload", s.handleMusicUpload)
		api.Get("/music/list", s.handleMusicList)
		api.Delete("/music/{id}", s.handleMusicDelete)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	out := map[string]any{"status": "ok"}
	if s.bridge != nil {
		out["mqtt_connected"] = s.bridge.StatusConnected()
	}
	writeJSON(w, http.StatusOK, out)
}

type registerRequest struct {
	ID       string `json:"id"`
	MAC      string `json:"mac"`
	Model    string `json:"model"`
	Firmware string `json:"firmware"`
	Name     string `json:"name"`
}

func (s *Server) handleDeviceRegister(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 16*1024))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()
	var req registerRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	dev, err := s.devices.Upsert(r.Context(), model.Device{
		ID:       strings.TrimSpace(req.ID),
		MAC:      req.MAC,
		Model:    req.Model,
		Firmware: req.Firmware,
		Name:     req.Name,
	})
	if err != nil {
		if errors.Is(err, store.ErrValidation) {
			http.Error(w, "device id is required", http.StatusBadRequest)
			return
		}
		slog.Error("device register failed", "device_id", req.ID, "error", err)
		http.Error(w, "failed to register device", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, dev)
}

func (s *Server) handleDeviceList(w http.ResponseWriter, r *http.Request) {
	devices, err := s.devices.List(r.Context())
	if err != nil {
		slog.Error("device list failed", "error", err)
		http.Error(w, "failed to load devices", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, devices)
}

func (s *Server) handleDeviceGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	dev, err := s.devices.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "device not found", http.StatusNotFound)
			return
		}
		slog.Error("device lookup failed", "device_id", id, "error", err)
		http.Error(w, "device lookup failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, dev)
}

type wifiRequest struct {
	SSID     string `json:"ssid"`
	Password string `json:"password"`
}

func (s *Server) handleDeviceWifi(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	body, err := io.ReadAll(io.LimitReader(r.Body, 16*1024))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()
	var req wifiRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	_, err = s.devices.SetNetworkCredentials(r.Context(), id, strings.TrimSpace(req.SSID), req.Password)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrValidation):
			http.Error(w, "ssid is required", http.StatusBadRequest)
		case errors.Is(err, store.ErrNotFound):
			http.Error(w, "device not found", http.StatusNotFound)
		default:
			slog.Error("wifi config failed", "device_id", id, "error", err)
			http.Error(w, "failed to save wifi config", http.StatusInternalServerError)
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "pushed", "device_id": id})
}

func (s *Server) handleMusicUpload(w http.ResponseWriter, r *http.Request) {
	// Multipart framing overhead on top of the file ceiling.
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload+64*1024)
	if err := r.ParseMultipartForm(s.maxUpload); err != nil {
		http.Error(w, "file too large", http.StatusRequestEntityTooLarge)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "file field is required", http.StatusBadRequest)
		return
	}
	defer file.Close()
	contentType := header.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "audio/") {
		http.Error(w, "only audio uploads are accepted", http.StatusBadRequest)
		return
	}
	if header.Size > s.maxUpload {
		http.Error(w, "file too large", http.StatusRequestEntityTooLarge)
		return
	}
	data, err := io.ReadAll(io.LimitReader(file, s.maxUpload))
	if err != nil {
		http.Error(w, "failed to read upload", http.StatusBadRequest)
		return
	}
	asset, err := s.media.Upload(r.Context(), data, header.Filename, contentType)
	if err != nil {
		slog.Error("music upload failed", "file", header.Filename, "error", err)
		http.Error(w, "failed to store upload", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, asset)
}

func (s *Server) handleMusicList(w http.ResponseWriter, r *http.Request) {
	assets, err := s.media.List(r.Context())
	if err != nil {
		slog.Error("music list failed", "error", err)
		http.Error(w, "failed to load music library", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, assets)
}

type deleteRequest struct {
	Filename string `json:"filename"`
}

func (s *Server) handleMusicDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req deleteRequest
	if body, err := io.ReadAll(io.LimitReader(r.Body, 16*1024)); err == nil && len(body) > 0 {
		_ = json.Unmarshal(body, &req)
	}
	defer r.Body.Close()
	if err := s.media.Delete(r.Context(), id, req.Filename); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "track not found", http.StatusNotFound)
			return
		}
		slog.Error("music delete failed", "id", id, "error", err)
		http.Error(w, "failed to delete track", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		_ = json.NewEncoder(w).Encode(payload)
	}
}
