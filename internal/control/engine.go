package control

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/heatctl/heatctl/internal/config"
	"github.com/heatctl/heatctl/internal/history"
	"github.com/heatctl/heatctl/internal/learning"
	"github.com/heatctl/heatctl/internal/metrics"
	"github.com/heatctl/heatctl/internal/model"
	"github.com/heatctl/heatctl/internal/mqtt"
	"github.com/heatctl/heatctl/internal/override"
	"github.com/heatctl/heatctl/internal/resolver"
	"github.com/heatctl/heatctl/internal/safety"
	"github.com/heatctl/heatctl/internal/schedule"
	"github.com/heatctl/heatctl/internal/store"
	"github.com/heatctl/heatctl/internal/vacation"
)

// ErrStopped is returned for operations posted after shutdown.
var ErrStopped = errors.New("engine stopped")

// Broadcaster pushes post-cycle snapshots to connected clients.
type Broadcaster interface {
	Broadcast(msgType string, data interface{})
}

type noopBroadcaster struct{}

func (noopBroadcaster) Broadcast(string, interface{}) {}

type message struct {
	fn    func() error
	reply chan error
}

type hazardEvent struct {
	sensorID string
	value    float64
	at       time.Time
}

type heatStart struct {
	at      time.Time
	temp    float64
	target  float64
	outdoor float64
}

type zonesDocument struct {
	Zones      []*model.Zone `json:"zones"`
	HeatSource *model.Device `json:"heat_source,omitempty"`
}

// Engine is the single owner of all zone state. Every tick and event is
// processed on one goroutine, so a full read-decide-command cycle for a zone
// never interleaves with another mutation. Hazard notifications jump the
// queue: they are always drained before the next queued message.
type Engine struct {
	cfg     *config.Config
	st      *store.Store
	hist    *history.DB
	client  mqtt.Client
	hub     Broadcaster
	res     *resolver.Resolver
	coord   *Coordinator
	learner *learning.Model
	safety  *safety.Monitor
	vac     *vacation.Manager
	det     *override.Detector

	zones      []*model.Zone
	heatSource *model.Device
	heatStarts map[string]heatStart

	msgs    chan message
	hazards chan hazardEvent
	done    chan struct{}
	wg      sync.WaitGroup
	stopped atomic.Bool

	cron *cron.Cron
	now  func() time.Time
}

func NewEngine(
	cfg *config.Config,
	st *store.Store,
	hist *history.DB,
	client mqtt.Client,
	hub Broadcaster,
	learner *learning.Model,
	safetyMon *safety.Monitor,
	vacMgr *vacation.Manager,
	det *override.Detector,
) *Engine {
	if hub == nil {
		hub = noopBroadcaster{}
	}
	e := &Engine{
		cfg:        cfg,
		st:         st,
		hist:       hist,
		client:     client,
		hub:        hub,
		learner:    learner,
		safety:     safetyMon,
		vac:        vacMgr,
		det:        det,
		heatStarts: make(map[string]heatStart),
		msgs:       make(chan message, 128),
		hazards:    make(chan hazardEvent, 16),
		done:       make(chan struct{}),
		now:        time.Now,
	}
	e.res = resolver.New(cfg, learner)
	e.coord = NewCoordinator(cfg, commandSink{e})
	e.coord.ThermoActive = client.Demand
	e.loadState()
	return e
}

// commandSink funnels coordinator commands through the override detector so
// device echoes of our own commands are never mistaken for manual changes.
type commandSink struct{ e *Engine }

func (s commandSink) Command(deviceID string, value float64) {
	s.e.det.NoteCommand(deviceID, value, s.e.now())
	s.e.client.Command(deviceID, value)
}

func (e *Engine) loadState() {
	var doc zonesDocument
	if e.st.Load(store.KeyZones, &doc) {
		e.zones = doc.Zones
		e.heatSource = doc.HeatSource
	}

	var samples map[string][]model.LearningSample
	if e.st.Load(store.KeyLearning, &samples) {
		e.learner.Restore(samples)
	}

	var vac *model.VacationState
	if e.st.Load(store.KeyVacation, &vac) {
		e.vac.Restore(vac)
	}

	var saf model.SafetyState
	if e.st.Load(store.KeySafety, &saf) {
		e.safety.Restore(saf)
	}

	log.Info().
		Int("zones", len(e.zones)).
		Bool("safety_active", e.safety.State().Active).
		Msg("Loaded controller state")
}

// Start launches the actor loop, cron ticks and transport subscriptions.
func (e *Engine) Start() {
	e.client.OnSensor(e.onSensor)
	e.client.OnReport(e.onReport)

	e.wg.Add(1)
	go e.run()

	e.cron = cron.New()
	e.addTick(time.Duration(e.cfg.ControlIntervalSeconds)*time.Second, func() {
		e.post(func() error { e.runControlCycle(e.now()); return nil })
	})
	e.addTick(time.Duration(e.cfg.ScheduleIntervalSeconds)*time.Second, func() {
		e.post(func() error { e.runScheduleTick(e.now()); return nil })
	})
	e.addTick(time.Duration(e.cfg.HistoryIntervalSeconds)*time.Second, func() {
		e.post(func() error { e.runHistoryTick(e.now()); return nil })
	})
	e.addTick(time.Duration(e.cfg.VacationIntervalMinutes)*time.Minute, func() {
		e.post(func() error { e.runVacationTick(e.now()); return nil })
	})
	e.addTick(time.Second, func() {
		e.post(func() error { e.runOverrideTick(e.now()); return nil })
	})
	e.cron.Start()

	log.Info().
		Int("control_interval_s", e.cfg.ControlIntervalSeconds).
		Int("schedule_interval_s", e.cfg.ScheduleIntervalSeconds).
		Msg("Engine started")
}

func every(d time.Duration) string {
	return fmt.Sprintf("@every %s", d)
}

// addTick registers a periodic activity. Config validation keeps intervals
// positive, so a failure here points at a programming error worth logging.
func (e *Engine) addTick(d time.Duration, fn func()) {
	if _, err := e.cron.AddFunc(every(d), fn); err != nil {
		log.Error().Err(err).Dur("interval", d).Msg("Failed to register periodic tick")
	}
}

// Stop cancels the periodic activities and joins the actor loop. Operations
// posted afterwards return ErrStopped.
func (e *Engine) Stop() {
	if e.stopped.Swap(true) {
		return
	}
	if e.cron != nil {
		<-e.cron.Stop().Done()
	}
	close(e.done)
	e.wg.Wait()
	log.Info().Msg("Engine stopped")
}

func (e *Engine) run() {
	defer e.wg.Done()
	for {
		// Hazards preempt: drain them before touching the regular queue.
		select {
		case h := <-e.hazards:
			e.handleHazard(h)
			continue
		default:
		}

		select {
		case h := <-e.hazards:
			e.handleHazard(h)
		case m := <-e.msgs:
			err := m.fn()
			if m.reply != nil {
				m.reply <- err
			}
		case <-e.done:
			return
		}
	}
}

// Do executes fn on the owning goroutine and waits for its result.
func (e *Engine) Do(fn func() error) error {
	if e.stopped.Load() {
		return ErrStopped
	}
	m := message{fn: fn, reply: make(chan error, 1)}
	select {
	case e.msgs <- m:
	case <-e.done:
		return ErrStopped
	}
	select {
	case err := <-m.reply:
		return err
	case <-e.done:
		return ErrStopped
	}
}

// post enqueues fire-and-forget work, dropping it when shut down or full
// (periodic ticks recur anyway).
func (e *Engine) post(fn func() error) {
	if e.stopped.Load() {
		return
	}
	select {
	case e.msgs <- message{fn: fn}:
	default:
		log.Warn().Msg("Engine queue full, dropping tick")
	}
}

// onSensor runs on the transport goroutine. Hazard sensor readings go on
// the preempting channel; everything else is picked up by the next cycle
// from the client's reading cache.
func (e *Engine) onSensor(deviceID string, value float64, at time.Time) {
	if !e.safety.IsHazardSensor(deviceID) {
		return
	}
	select {
	case e.hazards <- hazardEvent{sensorID: deviceID, value: value, at: at}:
	default:
		log.Error().Str("sensor", deviceID).Msg("Hazard queue full, dropping notification")
	}
}

// onReport runs on the transport goroutine; the observation is handed to
// the actor so detector state stays single-writer.
func (e *Engine) onReport(deviceID string, oldValue, newValue float64, at time.Time) {
	e.post(func() error {
		e.det.Observe(deviceID, oldValue, newValue, at)
		return nil
	})
}

func (e *Engine) handleHazard(h hazardEvent) {
	if !e.safety.Check(h.sensorID, h.value, h.at) {
		return
	}

	for _, zone := range e.zones {
		zone.Enabled = false
		zone.State = model.StateOff
	}
	e.saveSafety()
	e.saveZones()
	e.runControlCycle(h.at)
	e.client.PublishEvent("safety_shutdown", e.safety.State())
	e.hub.Broadcast("safety", e.safety.State())
}

// runControlCycle is the core read-decide-command pass over every zone.
func (e *Engine) runControlCycle(now time.Time) {
	outdoor := e.readOutdoor()
	in := resolver.Inputs{
		Safety:   e.safety.State(),
		Vacation: e.vac.State(),
		Outdoor:  outdoor,
		WindowOpen: func(deviceID string) bool {
			v, ok := e.client.Read(deviceID)
			return ok && v >= 0.5
		},
	}

	decisions := make([]Decision, 0, len(e.zones))
	for _, zone := range e.zones {
		e.refreshReading(zone)

		target, source := e.res.Resolve(zone, now, in)
		prev := zone.State

		var comparable *float64
		if zone.CurrentTemp != nil && !zone.CurrentStale {
			comparable = zone.CurrentTemp
		}
		zone.State = NextState(prev, zone.Enabled, zone.ManualOverride, comparable, target, zone.EffectiveHysteresis(e.cfg.DefaultHysteresis))

		e.trackHeatingRun(zone, prev, target, outdoor, now)

		log.Debug().
			Str("zone", zone.ID).
			Str("state", string(zone.State)).
			Float64("target", target).
			Str("source", string(source)).
			Msg("Zone control evaluation")

		if zone.CurrentTemp != nil {
			metrics.Gauge("zone.temperature", *zone.CurrentTemp, "zone:"+zone.ID)
		}
		metrics.Gauge("zone.target", target, "zone:"+zone.ID)
		metrics.Gauge("zone.heating", boolGauge(zone.State == model.StateHeating), "zone:"+zone.ID)

		decisions = append(decisions, Decision{Zone: zone, Target: target})
	}

	e.coord.Sync(decisions, e.heatSource)
	e.saveZones()
	e.hub.Broadcast("zones", e.snapshotLocked())
}

func (e *Engine) refreshReading(zone *model.Zone) {
	for i := range zone.Devices {
		dev := &zone.Devices[i]
		if dev.Kind != model.KindTempSensor && dev.Kind != model.KindThermostat {
			continue
		}
		if value, ok := e.client.Read(dev.ID); ok {
			zone.CurrentTemp = &value
			zone.CurrentStale = false
			return
		}
	}
	// Keep the last known reading but flag it stale; the state machine
	// skips its comparison on stale values.
	if zone.CurrentTemp != nil {
		zone.CurrentStale = true
	}
}

func (e *Engine) readOutdoor() *float64 {
	if e.cfg.OutdoorSensorID == "" {
		return nil
	}
	if v, ok := e.client.Read(e.cfg.OutdoorSensorID); ok {
		return &v
	}
	return nil
}

// trackHeatingRun appends a learning sample when a heating run completes:
// entered HEATING with a valid reading, later reached the recorded target.
func (e *Engine) trackHeatingRun(zone *model.Zone, prev model.ZoneState, target float64, outdoor *float64, now time.Time) {
	entered := prev != model.StateHeating && zone.State == model.StateHeating
	left := prev == model.StateHeating && zone.State != model.StateHeating

	if entered {
		if zone.CurrentTemp != nil && outdoor != nil {
			e.heatStarts[zone.ID] = heatStart{at: now, temp: *zone.CurrentTemp, target: target, outdoor: *outdoor}
		}
		return
	}
	if !left {
		return
	}

	start, ok := e.heatStarts[zone.ID]
	delete(e.heatStarts, zone.ID)
	if !ok {
		return
	}
	reached := zone.State == model.StateIdle && zone.CurrentTemp != nil && *zone.CurrentTemp >= start.target
	if !reached {
		return
	}

	sample := model.LearningSample{
		StartTemp:   start.temp,
		TargetTemp:  start.target,
		OutdoorTemp: start.outdoor,
		Duration:    now.Sub(start.at),
		RecordedAt:  now,
	}
	e.learner.Record(zone.ID, sample)
	e.saveLearning()
	if e.hist != nil {
		if err := e.hist.InsertRun(zone.ID, sample); err != nil {
			log.Warn().Err(err).Str("zone", zone.ID).Msg("Failed to record heating run")
		}
	}
	log.Info().
		Str("zone", zone.ID).
		Dur("duration", sample.Duration).
		Float64("deficit", start.target-start.temp).
		Msg("Recorded completed heating run")
}

// runScheduleTick re-applies schedule matching; a changed winning id for any
// zone triggers an immediate control pass so downstream devices re-command.
func (e *Engine) runScheduleTick(now time.Time) {
	changed := false
	for _, zone := range e.zones {
		if _, c := schedule.Apply(zone, now); c {
			changed = true
			log.Info().Str("zone", zone.ID).Str("schedule", zone.LastScheduleID).Msg("Active schedule changed")
		}
	}
	if changed {
		e.runControlCycle(now)
	}
}

func (e *Engine) runHistoryTick(now time.Time) {
	if e.hist == nil {
		return
	}
	for _, zone := range e.zones {
		if zone.CurrentTemp == nil {
			continue
		}
		target, _ := e.res.Resolve(zone, now, resolver.Inputs{
			Safety:   e.safety.State(),
			Vacation: e.vac.State(),
			Outdoor:  e.readOutdoor(),
		})
		r := history.Reading{
			ZoneID:    zone.ID,
			Temp:      *zone.CurrentTemp,
			Target:    target,
			State:     string(zone.State),
			SampledAt: now,
		}
		if err := e.hist.InsertReading(r); err != nil {
			log.Warn().Err(err).Str("zone", zone.ID).Msg("Failed to record temperature sample")
		}
	}
	if err := e.hist.Prune(now.AddDate(0, 0, -e.cfg.LearningMaxAgeDays)); err != nil {
		log.Warn().Err(err).Msg("Failed to prune history")
	}
}

func (e *Engine) runVacationTick(now time.Time) {
	if e.vac.Check(e.zones, now) {
		e.saveVacation()
		e.hub.Broadcast("vacation", e.vac.State())
		e.runControlCycle(now)
	}
}

// runOverrideTick scans debounce timers; an expiry flips the owning zone to
// manual control at the externally observed value.
func (e *Engine) runOverrideTick(now time.Time) {
	fired := e.det.Tick(now)
	if len(fired) == 0 {
		return
	}
	for _, act := range fired {
		zone := e.zoneForDevice(act.DeviceID)
		if zone == nil {
			continue
		}
		zone.ManualOverride = true
		zone.BaseTarget = act.Value
		zone.State = model.StateManual
		log.Info().
			Str("zone", zone.ID).
			Str("device", act.DeviceID).
			Float64("value", act.Value).
			Msg("Manual override detected")
		e.client.PublishEvent("manual_override", map[string]interface{}{
			"zone_id": zone.ID, "device_id": act.DeviceID, "value": act.Value,
		})
	}
	e.saveZones()
	e.hub.Broadcast("zones", e.snapshotLocked())
}

func (e *Engine) zoneForDevice(deviceID string) *model.Zone {
	for _, zone := range e.zones {
		if zone.DeviceByID(deviceID) != nil {
			return zone
		}
	}
	return nil
}

func (e *Engine) saveZones() {
	doc := zonesDocument{Zones: e.zones, HeatSource: e.heatSource}
	if err := e.st.Save(store.KeyZones, doc); err != nil {
		log.Error().Err(err).Msg("Failed to persist zones")
	}
}

func (e *Engine) saveLearning() {
	if err := e.st.Save(store.KeyLearning, e.learner.Snapshot()); err != nil {
		log.Error().Err(err).Msg("Failed to persist learning samples")
	}
}

func (e *Engine) saveVacation() {
	if err := e.st.Save(store.KeyVacation, e.vac.State()); err != nil {
		log.Error().Err(err).Msg("Failed to persist vacation state")
	}
}

func (e *Engine) saveSafety() {
	if err := e.st.Save(store.KeySafety, e.safety.State()); err != nil {
		log.Error().Err(err).Msg("Failed to persist safety state")
	}
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
