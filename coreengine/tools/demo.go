package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/typeutil"
)

// Home is the in-process state behind the demo handlers. It keeps the
// binary runnable end to end without real domain services.
type Home struct {
	mu       sync.Mutex
	now      func() time.Time
	lights   map[string]string
	playing  string
	timers   map[string]time.Time
	events   map[string]map[string]any
	lists    map[string][]string
	journal  map[string]string
	eventSeq []string
	journSeq []string
}

// NewHome creates empty demo state.
func NewHome() *Home {
	return &Home{
		now:     time.Now,
		lights:  make(map[string]string),
		timers:  make(map[string]time.Time),
		events:  make(map[string]map[string]any),
		lists:   make(map[string][]string),
		journal: make(map[string]string),
	}
}

// Lights returns the light state of a room, "off" when never set.
func (h *Home) Lights(room string) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s, ok := h.lights[room]; ok {
		return s
	}
	return "off"
}

// Playing returns what music is playing.
func (h *Home) Playing() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.playing
}

// Items returns a copy of a list.
func (h *Home) Items(list string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.lists[list]...)
}

// Timers returns the number of active timers.
func (h *Home) Timers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.timers)
}

// Register adds every demo tool, including the rollback tools the intent
// catalog references, to r.
func (h *Home) Register(r *Registry) error {
	defs := []*Definition{
		{Name: "smart_home.set_lights", Subsystem: "smart_home", SideEffect: true, Description: "Switch or dim the lights in a room", Handler: h.setLights},
		{Name: "smart_home.restore_lights", Subsystem: "smart_home", SideEffect: true, Description: "Restore a room's previous light state", Handler: h.restoreLights},
		{Name: "music.play", Subsystem: "music", SideEffect: true, Description: "Play music matching a query", Handler: h.playMusic},
		{Name: "music.stop", Subsystem: "music", SideEffect: true, Description: "Stop or revert playback", Handler: h.stopMusic},
		{Name: "timer.create", Subsystem: "timers", SideEffect: true, Description: "Start a countdown timer", Handler: h.createTimer},
		{Name: "timer.cancel", Subsystem: "timers", SideEffect: true, Description: "Cancel a timer", Handler: h.cancelTimer},
		{Name: "system.time", Subsystem: "system", Description: "Current local time", Handler: h.currentTime},
		{Name: "calendar.create_event", Subsystem: "calendar", SideEffect: true, Description: "Create a calendar event", Handler: h.createEvent},
		{Name: "calendar.delete_event", Subsystem: "calendar", SideEffect: true, Description: "Delete a calendar event", Handler: h.deleteEvent},
		{Name: "calendar.list_events", Subsystem: "calendar", Description: "List calendar events", Handler: h.listEvents},
		{Name: "lists.add_item", Subsystem: "lists", SideEffect: true, Description: "Add an item to a list", Handler: h.addItem},
		{Name: "lists.remove_item", Subsystem: "lists", SideEffect: true, Description: "Remove an item from a list", Handler: h.removeItem},
		{Name: "lists.get_items", Subsystem: "lists", Description: "Read one list or all lists", Handler: h.getItems},
		{Name: "journal.create_entry", Subsystem: "journal", SideEffect: true, Description: "Write a journal entry", Handler: h.createEntry},
		{Name: "journal.delete_entry", Subsystem: "journal", SideEffect: true, Description: "Delete a journal entry", Handler: h.deleteEntry},
	}
	for _, d := range defs {
		if err := r.Register(d); err != nil {
			return err
		}
	}
	return nil
}

// NewDemoRegistry returns a registry backed by fresh demo state.
func NewDemoRegistry() (*Registry, *Home) {
	r := NewRegistry()
	h := NewHome()
	if err := h.Register(r); err != nil {
		panic(err)
	}
	return r, h
}

func (h *Home) setLights(_ context.Context, p map[string]any) (map[string]any, error) {
	room := typeutil.StringOr(p, "room", "living room")
	state := typeutil.StringOr(p, "state", "on")
	h.mu.Lock()
	defer h.mu.Unlock()
	previous, ok := h.lights[room]
	if !ok {
		previous = "off"
	}
	h.lights[room] = state
	return map[string]any{"room": room, "state": state, "previous": previous}, nil
}

func (h *Home) restoreLights(_ context.Context, p map[string]any) (map[string]any, error) {
	room, ok := typeutil.String(p, "room")
	if !ok {
		return nil, fmt.Errorf("restore_lights: room is required")
	}
	previous := typeutil.StringOr(p, "previous", "off")
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lights[room] = previous
	return map[string]any{"room": room, "state": previous}, nil
}

func (h *Home) playMusic(_ context.Context, p map[string]any) (map[string]any, error) {
	query := typeutil.StringOr(p, "query", typeutil.StringOr(p, "text", "something relaxing"))
	h.mu.Lock()
	defer h.mu.Unlock()
	previous := h.playing
	h.playing = query
	return map[string]any{"now_playing": query, "previous": previous}, nil
}

func (h *Home) stopMusic(_ context.Context, p map[string]any) (map[string]any, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.playing = typeutil.StringOr(p, "previous", "")
	return map[string]any{"now_playing": h.playing}, nil
}

func (h *Home) createTimer(_ context.Context, p map[string]any) (map[string]any, error) {
	raw := typeutil.StringOr(p, "duration", "")
	d, err := parseDuration(raw)
	if err != nil {
		return nil, err
	}
	id := "tmr_" + uuid.New().String()[:8]
	h.mu.Lock()
	defer h.mu.Unlock()
	fires := h.now().Add(d)
	h.timers[id] = fires
	return map[string]any{"timer_id": id, "duration": raw, "fires_at": fires.Format(time.RFC3339)}, nil
}

func (h *Home) cancelTimer(_ context.Context, p map[string]any) (map[string]any, error) {
	id, ok := typeutil.String(p, "timer_id")
	if !ok {
		return nil, fmt.Errorf("cancel timer: timer_id is required")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	_, existed := h.timers[id]
	delete(h.timers, id)
	return map[string]any{"timer_id": id, "cancelled": existed}, nil
}

func (h *Home) currentTime(_ context.Context, _ map[string]any) (map[string]any, error) {
	now := h.now()
	return map[string]any{"time": now.Format("15:04"), "date": now.Format("Monday 2 January")}, nil
}

func (h *Home) createEvent(_ context.Context, p map[string]any) (map[string]any, error) {
	event := map[string]any{
		"id":    "evt_" + uuid.New().String()[:8],
		"title": typeutil.StringOr(p, "title", typeutil.StringOr(p, "text", "event")),
		"when":  typeutil.StringOr(p, "when", "today"),
		"time":  typeutil.StringOr(p, "time", ""),
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	id := event["id"].(string)
	h.events[id] = event
	h.eventSeq = append(h.eventSeq, id)
	return map[string]any{"event_id": id, "event": event}, nil
}

func (h *Home) deleteEvent(_ context.Context, p map[string]any) (map[string]any, error) {
	id, ok := typeutil.String(p, "event_id")
	if !ok {
		return nil, fmt.Errorf("delete event: event_id is required")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.events, id)
	return map[string]any{"event_id": id, "deleted": true}, nil
}

func (h *Home) listEvents(_ context.Context, p map[string]any) (map[string]any, error) {
	when, filtered := typeutil.String(p, "when")
	h.mu.Lock()
	defer h.mu.Unlock()
	events := make([]any, 0, len(h.eventSeq))
	for _, id := range h.eventSeq {
		ev, ok := h.events[id]
		if !ok || (filtered && when != "" && ev["when"] != when) {
			continue
		}
		events = append(events, ev)
	}
	return map[string]any{"events": events, "count": len(events)}, nil
}

func (h *Home) addItem(_ context.Context, p map[string]any) (map[string]any, error) {
	item, ok := typeutil.String(p, "item")
	if !ok || item == "" {
		return nil, fmt.Errorf("add item: item is required")
	}
	list := typeutil.StringOr(p, "list", "shopping")
	items := splitItems(item)
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lists[list] = append(h.lists[list], items...)
	return map[string]any{"list": list, "items": items}, nil
}

func (h *Home) removeItem(_ context.Context, p map[string]any) (map[string]any, error) {
	list := typeutil.StringOr(p, "list", "shopping")
	items, ok := typeutil.Strings(p["items"])
	if !ok {
		item, found := typeutil.String(p, "item")
		if !found {
			return nil, fmt.Errorf("remove item: item is required")
		}
		items = []string{item}
	}
	drop := make(map[string]int, len(items))
	for _, it := range items {
		drop[it]++
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	var kept []string
	for _, it := range h.lists[list] {
		if drop[it] > 0 {
			drop[it]--
			continue
		}
		kept = append(kept, it)
	}
	h.lists[list] = kept
	return map[string]any{"list": list, "removed": items}, nil
}

func (h *Home) getItems(_ context.Context, p map[string]any) (map[string]any, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if list, ok := typeutil.String(p, "list"); ok && list != "" {
		return map[string]any{"list": list, "items": toAny(h.lists[list])}, nil
	}
	names := make([]string, 0, len(h.lists))
	for name := range h.lists {
		names = append(names, name)
	}
	sort.Strings(names)
	all := make(map[string]any, len(names))
	for _, name := range names {
		all[name] = toAny(h.lists[name])
	}
	return map[string]any{"lists": all, "count": len(names)}, nil
}

func (h *Home) createEntry(_ context.Context, p map[string]any) (map[string]any, error) {
	entry := typeutil.StringOr(p, "entry", typeutil.StringOr(p, "text", ""))
	if entry == "" {
		return nil, fmt.Errorf("journal: entry is required")
	}
	id := "jrn_" + uuid.New().String()[:8]
	h.mu.Lock()
	defer h.mu.Unlock()
	h.journal[id] = entry
	h.journSeq = append(h.journSeq, id)
	return map[string]any{"entry_id": id, "entry": entry}, nil
}

func (h *Home) deleteEntry(_ context.Context, p map[string]any) (map[string]any, error) {
	id, ok := typeutil.String(p, "entry_id")
	if !ok {
		return nil, fmt.Errorf("journal: entry_id is required")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.journal, id)
	return map[string]any{"entry_id": id, "deleted": true}, nil
}

// parseDuration accepts "10 minutes", "1 hour" and Go duration strings.
func parseDuration(s string) (time.Duration, error) {
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}
	var n int
	var unit string
	if _, err := fmt.Sscanf(s, "%d %s", &n, &unit); err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid timer duration %q", s)
	}
	switch strings.TrimSuffix(unit, "s") {
	case "second":
		return time.Duration(n) * time.Second, nil
	case "minute":
		return time.Duration(n) * time.Minute, nil
	case "hour":
		return time.Duration(n) * time.Hour, nil
	}
	return 0, fmt.Errorf("invalid timer unit %q", unit)
}

func splitItems(s string) []string {
	var out []string
	for _, part := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' }) {
		for _, it := range strings.Split(part, " and ") {
			if it = strings.TrimSpace(it); it != "" {
				out = append(out, it)
			}
		}
	}
	return out
}

func toAny(items []string) []any {
	out := make([]any, len(items))
	for i, it := range items {
		out[i] = it
	}
	return out
}
