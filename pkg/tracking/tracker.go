package tracking

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/brightensolutions/brightensolutions-sub000/pkg/utils"
)

// Durable storage layout shared with existing browser sessions.
const (
	KeyVisitorID   = "brighten_visitor_id"
	KeyConsent     = "brighten_consent"
	KeyConsentDate = KeyConsent + "_date"
	KeyVisitCount  = "brighten_visit_count"
	KeyFirstVisit  = "brighten_first_visit"
	KeyLastVisit   = "brighten_last_visit"
	KeyContactInfo = "brighten_contact_info"
)

const (
	DefaultEndpoint     = "/api/tracking/visitor"
	DefaultSyncInterval = 30 * time.Second
	DefaultHistoryLimit = MaxPagesPerSnapshot
	DefaultSyncTimeout  = 10 * time.Second
)

// stampLayout matches Date.prototype.toISOString for UTC times.
const stampLayout = "2006-01-02T15:04:05.000Z07:00"

// ErrNoSender is logged when a tracker was built without a transport.
var ErrNoSender = errors.New("no sender configured")

// VisitorIdentity is the durable identity of one browser profile.
type VisitorIdentity struct {
	VisitorID  string
	FirstVisit time.Time
	LastVisit  time.Time
	VisitCount int
}

type ConsentState struct {
	HasConsent  bool
	ConsentDate *time.Time
}

type Option func(*Tracker)

func WithLogger(logger *slog.Logger) Option    { return func(t *Tracker) { t.logger = logger } }
func WithSender(sender Sender) Option          { return func(t *Tracker) { t.sender = sender } }
func WithClock(now func() time.Time) Option    { return func(t *Tracker) { t.now = now } }
func WithEndpoint(endpoint string) Option      { return func(t *Tracker) { t.endpoint = endpoint } }
func WithIDGenerator(gen func() string) Option { return func(t *Tracker) { t.newID = gen } }

// WithBaseURL sends snapshots over HTTP to baseURL.
func WithBaseURL(baseURL string) Option {
	return func(t *Tracker) { t.sender = NewHTTPSender(baseURL) }
}

// WithSyncInterval sets the periodic sync period; zero or less disables it.
func WithSyncInterval(d time.Duration) Option { return func(t *Tracker) { t.interval = d } }

// WithHistoryLimit caps the page history at n, at most MaxPagesPerSnapshot.
func WithHistoryLimit(n int) Option {
	return func(t *Tracker) {
		if n > 0 {
			t.limit = min(n, MaxPagesPerSnapshot)
		}
	}
}

func WithSyncTimeout(d time.Duration) Option { return func(t *Tracker) { t.timeout = d } }

// Tracker owns one page load's view of a visitor. Hosts construct exactly one
// per page load and route visibility, navigation and unload events to it.
//
// visitCount counts constructions, so a host that rebuilds the tracker on
// client-side route changes counts page views rather than visits; route
// changes belong in HandleNavigation.
type Tracker struct {
	env       Environment
	store     Storage
	collector *Collector
	sender    Sender
	logger    *slog.Logger
	now       func() time.Time
	newID     func() string
	endpoint  string
	interval  time.Duration
	limit     int
	timeout   time.Duration

	mu           sync.Mutex
	identity     VisitorIdentity
	consent      ConsentState
	contact      *ContactInfo
	device       DeviceInfo
	referrer     string
	pages        []PageVisit
	currentPath  string
	currentTitle string
	// Dwell time of the current page is banked while hidden and resumes
	// accruing when the page becomes visible again.
	dwellStart   time.Time
	dwellBanked  time.Duration
	dwellRunning bool
	hidden       bool
	closed       bool

	inflight sync.WaitGroup
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// New loads or creates the visitor identity from env's local storage, counts
// the visit, records the current page and starts the periodic sync. With a
// nil env the tracker is inert.
func New(env Environment, opts ...Option) *Tracker {
	t := &Tracker{
		env:      env,
		logger:   slog.Default(),
		now:      time.Now,
		newID:    utils.NewVisitorID,
		endpoint: DefaultEndpoint,
		interval: DefaultSyncInterval,
		limit:    DefaultHistoryLimit,
		timeout:  DefaultSyncTimeout,
	}
	for _, opt := range opts {
		opt(t)
	}
	if env == nil {
		return t
	}
	if t.sender == nil {
		t.sender = SenderFunc(func(context.Context, string, []byte, bool) error { return ErrNoSender })
	}

	t.store = env.LocalStorage()
	t.collector = NewCollector(env, t.logger)

	t.mu.Lock()
	t.loadIdentity()
	t.loadConsent()
	t.loadContact()
	t.device = DetectEnvironment(env)
	t.referrer = env.Referrer()
	t.mu.Unlock()

	t.TrackPageView(env.Pathname(), env.Title())

	if t.interval > 0 {
		t.stop = make(chan struct{})
		t.done = make(chan struct{})
		go t.run()
	}
	return t
}

func (t *Tracker) active() bool { return t.env != nil }

func (t *Tracker) run() {
	defer close(t.done)
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			t.SyncVisitorData()
		case <-t.stop:
			return
		}
	}
}

type storedItem struct {
	value string
	ok    bool
}

func (t *Tracker) get(key string) (string, bool) {
	if t.store == nil {
		return "", false
	}
	item := Attempt(func() (storedItem, error) {
		v, ok, err := t.store.GetItem(key)
		return storedItem{v, ok}, err
	}).Logged(t.logger, "storage read", storedItem{}, "key", key)
	return item.value, item.ok
}

func (t *Tracker) set(key, value string) {
	if t.store == nil {
		return
	}
	AttemptDo(func() error {
		return t.store.SetItem(key, value)
	}).Logged(t.logger, "storage write", struct{}{}, "key", key)
}

func (t *Tracker) stamp() time.Time {
	return t.now().UTC().Truncate(time.Millisecond)
}

func formatStamp(ts time.Time) string { return ts.UTC().Format(stampLayout) }

func parseStamp(raw string) (time.Time, bool) {
	if raw == "" {
		return time.Time{}, false
	}
	ts, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false
	}
	return ts.UTC(), true
}

func (t *Tracker) loadIdentity() {
	now := t.stamp()

	id, ok := t.get(KeyVisitorID)
	if !ok || id == "" {
		id = t.newID()
		t.set(KeyVisitorID, id)
	}

	raw, _ := t.get(KeyFirstVisit)
	first, ok := parseStamp(raw)
	if !ok {
		first = now
		t.set(KeyFirstVisit, formatStamp(first))
	}

	count := 0
	if raw, ok := t.get(KeyVisitCount); ok {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			count = n
		} else {
			t.logger.Warn("tracking: ignoring malformed visit count", "value", raw)
		}
	}
	count = min(count+1, MaxVisitCount)
	t.set(KeyVisitCount, strconv.Itoa(count))
	t.set(KeyLastVisit, formatStamp(now))

	t.identity = VisitorIdentity{
		VisitorID:  id,
		FirstVisit: first,
		LastVisit:  now,
		VisitCount: count,
	}
}

func (t *Tracker) loadConsent() {
	raw, _ := t.get(KeyConsent)
	t.consent = ConsentState{HasConsent: raw == "true"}
	if rawDate, ok := t.get(KeyConsentDate); ok {
		if ts, ok := parseStamp(rawDate); ok {
			t.consent.ConsentDate = &ts
		}
	}
}

func (t *Tracker) loadContact() {
	raw, ok := t.get(KeyContactInfo)
	if !ok || raw == "" {
		return
	}
	var ci ContactInfo
	if err := json.Unmarshal([]byte(raw), &ci); err != nil {
		t.logger.Error("tracking: stored contact info is not valid JSON", "error", err)
		return
	}
	t.contact = &ci
}

// measureLocked writes the current page's accrued dwell time. Visits below
// one second keep TimeSpent unset.
func (t *Tracker) measureLocked(now time.Time) {
	if len(t.pages) == 0 {
		return
	}
	total := t.dwellBanked
	if t.dwellRunning {
		total += now.Sub(t.dwellStart)
	}
	secs := min(int(total/time.Second), MaxTimeSpent)
	if secs < 1 {
		return
	}
	t.pages[len(t.pages)-1].TimeSpent = &secs
}

// TrackPageView closes the outgoing page, appends a record for path and
// syncs.
func (t *Tracker) TrackPageView(path, title string) {
	if !t.active() {
		return
	}
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	now := t.now()
	t.measureLocked(now)

	t.pages = append(t.pages, PageVisit{Path: path, Title: title, VisitedAt: now})
	if over := len(t.pages) - t.limit; over > 0 {
		t.pages = append([]PageVisit(nil), t.pages[over:]...)
	}
	t.currentPath = path
	t.currentTitle = title
	t.dwellStart = now
	t.dwellBanked = 0
	// a page entered while hidden starts accruing when it is shown
	t.dwellRunning = !t.hidden
	t.mu.Unlock()

	t.SyncVisitorData()
}

// HandleVisibilityChange pauses the dwell timer while hidden and resumes it
// on the current record when the page is shown again.
func (t *Tracker) HandleVisibilityChange(hidden bool) {
	if !t.active() {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	t.hidden = hidden
	if hidden {
		t.measureLocked(now)
		if t.dwellRunning {
			t.dwellBanked += now.Sub(t.dwellStart)
			t.dwellRunning = false
		}
		return
	}
	if !t.dwellRunning {
		t.dwellStart = now
		t.dwellRunning = true
	}
}

// HandleNavigation reacts to a history change by re-reading the host
// location.
func (t *Tracker) HandleNavigation() {
	if !t.active() {
		return
	}
	t.mu.Lock()
	t.measureLocked(t.now())
	path, title := t.env.Pathname(), t.env.Title()
	changed := path != t.currentPath
	t.mu.Unlock()

	if changed {
		t.TrackPageView(path, title)
	}
}

// HandleBeforeUnload finalizes the current page and sends a last snapshot,
// blocking until it is delivered or the sync timeout passes.
func (t *Tracker) HandleBeforeUnload() {
	if !t.active() {
		return
	}
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	now := t.now()
	t.measureLocked(now)
	data := t.snapshotLocked(now)
	t.mu.Unlock()

	t.deliver(data, true)
}

// SetConsent persists the consent flag, stamping the date when consent is
// granted, and syncs.
func (t *Tracker) SetConsent(granted bool) {
	if !t.active() {
		return
	}
	t.mu.Lock()
	if granted && (!t.consent.HasConsent || t.consent.ConsentDate == nil) {
		ts := t.stamp()
		t.consent.ConsentDate = &ts
		t.set(KeyConsentDate, formatStamp(ts))
	}
	t.consent.HasConsent = granted
	t.set(KeyConsent, strconv.FormatBool(granted))
	t.mu.Unlock()

	t.SyncVisitorData()
}

func (t *Tracker) SetContactInfo(info ContactInfo) {
	if !t.active() {
		return
	}
	t.mu.Lock()
	if raw, err := json.Marshal(info); err == nil {
		t.set(KeyContactInfo, string(raw))
	}
	t.contact = &info
	t.mu.Unlock()

	t.SyncVisitorData()
}

// SyncVisitorData finalizes dwell time and submits the full snapshot in the
// background. Failures are logged; the next tick or event retries.
func (t *Tracker) SyncVisitorData() {
	if !t.active() {
		return
	}
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	now := t.now()
	t.measureLocked(now)
	data := t.snapshotLocked(now)
	t.inflight.Add(1)
	t.mu.Unlock()

	go func() {
		defer t.inflight.Done()
		t.deliver(data, false)
	}()
}

func (t *Tracker) deliver(data VisitorData, keepAlive bool) {
	body, err := data.Encode()
	if err != nil {
		t.logger.Error("tracking: snapshot rejected", "visitor_id", data.VisitorID, "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
	defer cancel()
	if err := t.sender.Send(ctx, t.endpoint, body, keepAlive); err != nil {
		t.logger.Error("tracking: sync failed", "visitor_id", data.VisitorID, "keep_alive", keepAlive, "error", err)
	}
}

func (t *Tracker) snapshotLocked(now time.Time) VisitorData {
	pages := make([]PageVisit, len(t.pages))
	copy(pages, t.pages)

	sentAt := now.UTC()
	data := VisitorData{
		VisitorID:    t.identity.VisitorID,
		FirstVisit:   t.identity.FirstVisit,
		LastVisit:    t.identity.LastVisit,
		VisitCount:   t.identity.VisitCount,
		PagesVisited: pages,
		Referrer:     t.referrer,
		Device:       t.device,
		HasConsent:   t.consent.HasConsent,
		StorageData:  EmptyStorageData(),
		SentAt:       &sentAt,
	}
	if t.contact != nil {
		ci := *t.contact
		data.ContactInfo = &ci
	}
	if t.consent.HasConsent {
		if t.consent.ConsentDate != nil {
			ts := *t.consent.ConsentDate
			data.ConsentDate = &ts
		}
		data.StorageData = t.collector.All()
	}
	return data
}

// Snapshot finalizes dwell time and returns the payload the next sync would
// send. An inert tracker returns the zero value.
func (t *Tracker) Snapshot() VisitorData {
	if !t.active() {
		return VisitorData{}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	t.measureLocked(now)
	return t.snapshotLocked(now)
}

func (t *Tracker) Identity() VisitorIdentity {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.identity
}

// CurrentPage is the path and title of the page accruing dwell time.
func (t *Tracker) CurrentPage() (path, title string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.currentPath, t.currentTitle
}

func (t *Tracker) Consent() ConsentState {
	t.mu.Lock()
	defer t.mu.Unlock()
	c := t.consent
	if c.ConsentDate != nil {
		ts := *c.ConsentDate
		c.ConsentDate = &ts
	}
	return c
}

// Wait blocks until every background sync issued so far has finished.
func (t *Tracker) Wait() {
	t.inflight.Wait()
}

// Close stops the periodic sync and waits for in-flight syncs. Events after
// Close are ignored.
func (t *Tracker) Close() {
	t.stopOnce.Do(func() {
		t.mu.Lock()
		t.closed = true
		t.mu.Unlock()
		if t.stop != nil {
			close(t.stop)
			<-t.done
		}
		t.inflight.Wait()
	})
}
