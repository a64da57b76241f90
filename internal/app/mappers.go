package app

import (
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"mane_reservas/internal/domain"
)

/********** alias registries (single source of truth) **********/

var unitAliases = map[string][]string{
	"id":   {"id", "_id", "slug", "name"},
	"name": {"name", "title", "slug"},
	"slug": {"slug"},
}

var areaAliases = map[string][]string{
	"id":          {"id", "_id", "areaId"},
	"name":        {"name", "title"},
	"description": {"description", "desc"},
	"photo":       {"photoUrlAbsolute", "photoUrl", "photo"},
	"icon":        {"iconEmoji", "icon", "iconGlyph"},
}

var reservationAliases = map[string][]string{
	"id":         {"id", "_id", "reservationId"},
	"code":       {"reservationCode", "code", "humanCode"},
	"unit_id":    {"unitId", "unit.id", "unit"},
	"unit_label": {"unitName", "unit.name", "unitLabel"},
	"area_id":    {"areaId", "area.id", "area"},
	"area_label": {"areaName", "area.name", "areaLabel"},
	"instant":    {"reservationDate", "reservationInstant", "reservedFor", "date"},
	"name":       {"fullName", "guestName", "name"},
	"cpf":        {"cpf", "guestCpf"},
	"email":      {"email", "guestEmail"},
	"phone":      {"phone", "guestPhone"},
	"status":     {"status", "reservationStatus"},
}

/********** tiny helpers **********/

// lookupAny: safe nested lookup with dot paths on maps.
func lookupAny(m map[string]any, path string) any {
	cur := any(m)
	for _, part := range strings.Split(path, ".") {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		v, ok := obj[part]
		if !ok {
			return nil
		}
		cur = v
	}
	return cur
}

// lookupStr returns the string at path or "". Numeric ids are stringified.
func lookupStr(m map[string]any, path string) string {
	switch v := lookupAny(m, path).(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return ""
}

// firstNonEmptyAlias: first non-empty string for a named alias set.
func firstNonEmptyAlias(m map[string]any, aliases map[string][]string, key string) string {
	for _, p := range aliases[key] {
		if s := lookupStr(m, p); s != "" {
			return s
		}
	}
	return ""
}

// getIntFlexible: number from several paths (float64/int/string like "8").
func getIntFlexible(m map[string]any, paths ...string) *int {
	for _, k := range paths {
		switch v := lookupAny(m, k).(type) {
		case float64:
			x := int(v)
			return &x
		case int:
			x := v
			return &x
		case string:
			s := strings.TrimSpace(v)
			if s == "" {
				continue
			}
			if n, err := strconv.Atoi(s); err == nil {
				return &n
			}
		}
	}
	return nil
}

func getBool(m map[string]any, path string) (bool, bool) {
	b, ok := lookupAny(m, path).(bool)
	return b, ok
}

func parseInstant(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

/********** units **********/

func mapUnits(in []map[string]any) []domain.Unit {
	out := make([]domain.Unit, 0, len(in))
	for _, u := range in {
		id := firstNonEmptyAlias(u, unitAliases, "id")
		if id == "" {
			continue
		}
		out = append(out, domain.Unit{
			ID:   id,
			Name: firstNonEmptyAlias(u, unitAliases, "name"),
			Slug: firstNonEmptyAlias(u, unitAliases, "slug"),
		})
	}
	return out
}

/********** areas **********/

func mapArea(a map[string]any) domain.Area {
	return domain.Area{
		ID:          firstNonEmptyAlias(a, areaAliases, "id"),
		Name:        firstNonEmptyAlias(a, areaAliases, "name"),
		Description: firstNonEmptyAlias(a, areaAliases, "description"),
		PhotoURL:    firstNonEmptyAlias(a, areaAliases, "photo"),
		IconGlyph:   firstNonEmptyAlias(a, areaAliases, "icon"),
		Capacity:    getIntFlexible(a, "capacity"),
	}
}

// mapAreasStatic maps the by-unit metadata list; it carries no availability.
func mapAreasStatic(in []map[string]any) []domain.Area {
	out := make([]domain.Area, 0, len(in))
	for _, raw := range in {
		a := mapArea(raw)
		if a.ID == "" {
			continue
		}
		a.IsAvailable = a.Left() > 0
		out = append(out, a)
	}
	return out
}

// mapAvailability maps the time-scoped list: remaining comes from
// available|remaining and isAvailable defaults to remaining > 0.
func mapAvailability(in []map[string]any) []domain.Area {
	out := make([]domain.Area, 0, len(in))
	for _, raw := range in {
		a := mapArea(raw)
		if a.ID == "" {
			continue
		}
		a.Remaining = getIntFlexible(raw, "available", "remaining")
		if b, ok := getBool(raw, "isAvailable"); ok {
			a.IsAvailable = b
		} else {
			a.IsAvailable = a.Remaining != nil && *a.Remaining > 0
		}
		out = append(out, a)
	}
	return out
}

// mergeAreas keeps the availability list and its order; static metadata only
// fills what availability left empty, matched by id.
func mergeAreas(static, avail []domain.Area) []domain.Area {
	byID := make(map[string]domain.Area, len(static))
	for _, s := range static {
		byID[s.ID] = s
	}
	out := make([]domain.Area, 0, len(avail))
	for _, a := range avail {
		if s, ok := byID[a.ID]; ok {
			if a.Name == "" {
				a.Name = s.Name
			}
			if a.Description == "" {
				a.Description = s.Description
			}
			if a.PhotoURL == "" {
				a.PhotoURL = s.PhotoURL
			}
			if a.IconGlyph == "" {
				a.IconGlyph = s.IconGlyph
			}
			if a.Capacity == nil {
				a.Capacity = s.Capacity
			}
		}
		out = append(out, a)
	}
	return out
}

/********** reservations **********/

type created struct {
	ID     string
	Code   string
	Status domain.ReservationStatus
}

func mapCreated(m map[string]any) created {
	st := domain.NormalizeStatus(firstNonEmptyAlias(m, reservationAliases, "status"))
	if st == "" {
		st = domain.StatusAwaitingCheckIn
	}
	return created{
		ID:     firstNonEmptyAlias(m, reservationAliases, "id"),
		Code:   firstNonEmptyAlias(m, reservationAliases, "code"),
		Status: st,
	}
}

// mapReservation normalizes a reservation payload. Unit and area ids missing
// from the payload are recovered from an utm_campaign of the form "unit:area".
func mapReservation(m map[string]any) domain.ReservationRecord {
	r := domain.ReservationRecord{
		ID:         firstNonEmptyAlias(m, reservationAliases, "id"),
		HumanCode:  firstNonEmptyAlias(m, reservationAliases, "code"),
		UnitID:     firstNonEmptyAlias(m, reservationAliases, "unit_id"),
		UnitLabel:  firstNonEmptyAlias(m, reservationAliases, "unit_label"),
		AreaID:     firstNonEmptyAlias(m, reservationAliases, "area_id"),
		AreaLabel:  firstNonEmptyAlias(m, reservationAliases, "area_label"),
		GuestName:  firstNonEmptyAlias(m, reservationAliases, "name"),
		GuestCPF:   OnlyDigits(firstNonEmptyAlias(m, reservationAliases, "cpf")),
		GuestEmail: firstNonEmptyAlias(m, reservationAliases, "email"),
		GuestPhone: OnlyDigits(firstNonEmptyAlias(m, reservationAliases, "phone")),
		Status:     domain.NormalizeStatus(firstNonEmptyAlias(m, reservationAliases, "status")),
	}
	if r.UnitID == "" || r.AreaID == "" {
		if u, a, ok := strings.Cut(lookupStr(m, "utm_campaign"), ":"); ok {
			if r.UnitID == "" {
				r.UnitID = strings.TrimSpace(u)
			}
			if r.AreaID == "" {
				r.AreaID = strings.TrimSpace(a)
			}
		}
	}
	if s := firstNonEmptyAlias(m, reservationAliases, "instant"); s != "" {
		if t, ok := parseInstant(s); ok {
			r.ReservationInstant = t
		} else {
			log.Warn().Str("context", "mapReservation").Str("value", s).Msg("unparseable reservation instant")
		}
	}
	if n := getIntFlexible(m, "people", "partySize"); n != nil {
		r.PartySize = *n
	}
	if n := getIntFlexible(m, "kids", "childCount"); n != nil {
		r.ChildCount = *n
	}
	return r
}
