// Package api is the thin HTTP/WebSocket façade over the control loop
// (spec.md §6): progress/settings/profile/history reads, firing commands,
// and a /ws event stream. Grounded on EdgxCloud-EdgeFlow's internal/api
// (service.go/routes.go/middleware/auth.go), narrowed to this domain's much
// smaller surface — no flow/node/connection CRUD, no module registry, no
// terminal WebSocket, since none of that exists here.
package api

import (
	"fmt"

	"github.com/edgeflow/kilnd/internal/kiln/controller"
	"github.com/edgeflow/kilnd/internal/kiln/errcode"
	"github.com/edgeflow/kilnd/internal/kiln/firing"
	"github.com/edgeflow/kilnd/internal/kiln/history"
	"github.com/edgeflow/kilnd/internal/kiln/pidctl"
	"github.com/edgeflow/kilnd/internal/kiln/profile"
	"github.com/edgeflow/kilnd/internal/kiln/settings"
	"github.com/edgeflow/kilnd/internal/websocket"
)

// Service adapts the Controller's capabilities to the handlers in
// routes.go. It holds no state of its own: every call is a pass-through to
// the Controller's already-running components.
type Service struct {
	ctrl  *controller.Controller
	wsHub *websocket.Hub
	gains *pidctl.GainStore
}

// NewService builds a Service over a running Controller and its shared
// WebSocket hub. gainStore is passed separately since the Controller does
// not expose its internal pidctl.GainStore (the Firing Engine owns gain
// persistence directly; the api layer needs read/write access for the
// gains endpoints spec.md § 6 names).
func NewService(ctrl *controller.Controller, wsHub *websocket.Hub, gainStore *pidctl.GainStore) *Service {
	return &Service{ctrl: ctrl, wsHub: wsHub, gains: gainStore}
}

// GetProgress returns the Firing Engine's current progress snapshot.
func (s *Service) GetProgress() firing.Progress {
	return s.ctrl.Engine().GetProgress()
}

// GetSettings returns the persisted KilnSettings. The API token is never
// present on the returned value (settings.Store.Load never populates it).
func (s *Service) GetSettings() (settings.KilnSettings, error) {
	return s.ctrl.Settings().Load()
}

// SaveSettings persists cfg. If apiToken is non-nil, it replaces the
// stored API token; a nil apiToken leaves the existing token untouched.
func (s *Service) SaveSettings(cfg settings.KilnSettings, apiToken *string) error {
	if apiToken != nil {
		cfg.SetAPIToken(*apiToken)
	}
	return s.ctrl.Settings().Save(cfg)
}

// AuthorizeBearer checks candidate against the stored API token.
func (s *Service) AuthorizeBearer(candidate string) (bool, error) {
	return s.ctrl.Settings().AuthorizeBearer(candidate)
}

// ListProfiles returns every stored firing profile.
func (s *Service) ListProfiles() ([]profile.Profile, error) {
	return s.ctrl.Profiles().List()
}

// GetProfile returns one profile by id, or profile.ErrNotFound.
func (s *Service) GetProfile(id string) (profile.Profile, error) {
	return s.ctrl.Profiles().Load(id)
}

// SaveProfile validates and upserts a profile.
func (s *Service) SaveProfile(p profile.Profile) error {
	return s.ctrl.Profiles().Save(p)
}

// DeleteProfile removes a profile by id.
func (s *Service) DeleteProfile(id string) error {
	return s.ctrl.Profiles().Delete(id)
}

// ListHistory returns every retained firing record, newest first.
func (s *Service) ListHistory() []history.Record {
	return s.ctrl.History().List()
}

// GetGains returns the persisted PID gains.
func (s *Service) GetGains() (pidctl.Gains, error) {
	return s.gains.Load()
}

// SetGains persists new PID gains. The Firing Engine re-reads them the
// next time it starts a segment (spec.md § 4.3); there is no live push.
func (s *Service) SetGains(g pidctl.Gains) error {
	return s.gains.Save(g)
}

// StartFiring enqueues a CmdStart for profileID, delayed by delayMinutes.
func (s *Service) StartFiring(profileID string, delayMinutes int) error {
	p, err := s.ctrl.Profiles().Load(profileID)
	if err != nil {
		return fmt.Errorf("load profile %q: %w", profileID, err)
	}
	return s.ctrl.Engine().Enqueue(firing.Command{
		Kind:         firing.CmdStart,
		Profile:      p,
		DelayMinutes: delayMinutes,
	})
}

// Stop enqueues a CmdStop.
func (s *Service) Stop() error {
	return s.ctrl.Engine().Enqueue(firing.Command{Kind: firing.CmdStop})
}

// Pause enqueues a CmdPause.
func (s *Service) Pause() error {
	return s.ctrl.Engine().Enqueue(firing.Command{Kind: firing.CmdPause})
}

// Resume enqueues a CmdResume.
func (s *Service) Resume() error {
	return s.ctrl.Engine().Enqueue(firing.Command{Kind: firing.CmdResume})
}

// SkipSegment enqueues a CmdSkipSegment.
func (s *Service) SkipSegment() error {
	return s.ctrl.Engine().Enqueue(firing.Command{Kind: firing.CmdSkipSegment})
}

// AutotuneStart enqueues a CmdAutotuneStart at the given setpoint and
// relay hysteresis.
func (s *Service) AutotuneStart(setpointC, hysteresisC float64) error {
	return s.ctrl.Engine().Enqueue(firing.Command{
		Kind:        firing.CmdAutotuneStart,
		SetpointC:   setpointC,
		HysteresisC: hysteresisC,
	})
}

// AutotuneStop enqueues a CmdAutotuneStop.
func (s *Service) AutotuneStop() error {
	return s.ctrl.Engine().Enqueue(firing.Command{Kind: firing.CmdAutotuneStop})
}

// LastErrorCode returns the Firing Engine's most recent terminal error
// code, errcode.None if the last firing ended cleanly.
func (s *Service) LastErrorCode() errcode.FiringErrorCode {
	return s.ctrl.Engine().GetErrorCode()
}
