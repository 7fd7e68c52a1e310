package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"gorm.io/gorm"

	"led-bridge/internal/model"
	"led-bridge/internal/mqtt"
	"led-bridge/internal/topics"
)

// DeviceRegistry is the upsert-only device store. Every write goes through
// the in-process mirror as well as the database, so reads keep answering
// when the store drops.
type DeviceRegistry struct {
	s        *Store
	upstream mqtt.ClientAPI

	mu  sync.RWMutex
	mem map[string]model.Device
}

func NewDeviceRegistry(s *Store, upstream mqtt.ClientAPI) *DeviceRegistry {
	return &DeviceRegistry{s: s, upstream: upstream, mem: map[string]model.Device{}}
}

// Upsert creates or merges the record for in.ID, refreshing last_online and
// flipping status to online on every call. A missing id is the only
// validation error.
func (r *DeviceRegistry) Upsert(ctx context.Context, in model.Device) (model.Device, error) {
	if in.ID == "" {
		return model.Device{}, fmt.Errorf("%w: device id is required", ErrValidation)
	}
	existing, err := r.load(ctx, in.ID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return model.Device{}, err
	}
	dev := merge(existing, in)
	dev.Status = model.StatusOnline
	dev.LastOnline = time.Now().UTC()
	if dev.CreatedAt.IsZero() {
		dev.CreatedAt = dev.LastOnline
	}
	dev.UpdatedAt = dev.LastOnline

	r.mu.Lock()
	r.mem[dev.ID] = dev
	r.mu.Unlock()

	if r.s.Connected() {
		if err := r.s.db.WithContext(ctx).Save(&dev).Error; err != nil {
			r.s.markDown(err)
			slog.Warn("device upsert degraded to memory", "device_id", dev.ID, "error", err)
		}
	}
	return dev, nil
}

// SetNetworkCredentials persists the credentials and pushes them at the
// device on the wifi-config channel. Push configuration, not request/response:
// the device consumes the next message on that channel opportunistically.
func (r *DeviceRegistry) SetNetworkCredentials(ctx context.Context, id, ssid, secret string) (model.Device, error) {
	if ssid == "" {
		return model.Device{}, fmt.Errorf("%w: ssid is required", ErrValidation)
	}
	dev, err := r.Get(ctx, id)
	if err != nil {
		return model.Device{}, err
	}
	dev.WifiSSID = ssid
	dev.WifiPass = secret
	dev, err = r.Upsert(ctx, dev)
	if err != nil {
		return model.Device{}, err
	}
	payload := ssid + ";" + secret
	if err := r.upstream.Publish(topics.WifiConfig, []byte(payload)); err != nil {
		slog.Error("wifi config push failed", "device_id", id, "error", err)
	}
	return dev, nil
}

func (r *DeviceRegistry) Get(ctx context.Context, id string) (model.Device, error) {
	return r.load(ctx, id)
}

func (r *DeviceRegistry) List(ctx context.Context) ([]model.Device, error) {
	if r.s.Connected() {
		devices := make([]model.Device, 0)
		if err := r.s.db.WithContext(ctx).Order("id").Find(&devices).Error; err != nil {
			r.s.markDown(err)
		} else {
			return devices, nil
		}
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	devices := make([]model.Device, 0, len(r.mem))
	for _, d := range r.mem {
		devices = append(devices, d)
	}
	sort.Slice(devices, func(i, j int) bool { return devices[i].ID < devices[j].ID })
	return devices, nil
}

func (r *DeviceRegistry) load(ctx context.Context, id string) (model.Device, error) {
	if r.s.Connected() {
		var dev model.Device
		err := r.s.db.WithContext(ctx).First(&dev, "id = ?", id).Error
		switch {
		case err == nil:
			return dev, nil
		case errors.Is(err, gorm.ErrRecordNotFound):
			return model.Device{}, ErrNotFound
		default:
			r.s.markDown(err)
		}
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if dev, ok := r.mem[id]; ok {
		return dev, nil
	}
	return model.Device{}, ErrNotFound
}

// merge overlays non-empty fields from in onto base. Credentials follow the
// same rule so an upsert without wifi fields never clears them.
func merge(base, in model.Device) model.Device {
	out := base
	out.ID = in.ID
	if in.MAC != "" {
		out.MAC = in.MAC
	}
	if in.Model != "" {
		out.Model = in.Model
	}
	if in.Firmware != "" {
		out.Firmware = in.Firmware
	}
	if in.Name != "" {
		out.Name = in.Name
	}
	if in.WifiSSID != "" {
		out.WifiSSID = in.WifiSSID
	}
	if in.WifiPass != "" {
		out.WifiPass = in.WifiPass
	}
	return out
}
