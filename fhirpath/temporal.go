package fhirpath

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/apd/v3"
)

// Precision is the finest component a temporal value carries.
type Precision int

const (
	PrecisionYear Precision = iota
	PrecisionMonth
	PrecisionDay
	PrecisionHour
	PrecisionMinute
	PrecisionSecond
	PrecisionMillisecond
)

func (p Precision) String() string {
	switch p {
	case PrecisionYear:
		return "year"
	case PrecisionMonth:
		return "month"
	case PrecisionDay:
		return "day"
	case PrecisionHour:
		return "hour"
	case PrecisionMinute:
		return "minute"
	case PrecisionSecond:
		return "second"
	}
	return "millisecond"
}

const (
	minZoneOffsetHours = -12
	maxZoneOffsetHours = 14
)

type Date struct {
	defaultConversionError[Date]
	Value     time.Time
	Precision Precision
}

type Time struct {
	defaultConversionError[Time]
	Value     time.Time
	Precision Precision
}

type DateTime struct {
	defaultConversionError[DateTime]
	Value       time.Time
	Precision   Precision
	HasTimeZone bool
}

// ParseDate parses YYYY[-MM[-DD]].
func ParseDate(s string) (Date, error) {
	y, m, d, prec, rest, err := scanDate(s)
	if err != nil {
		return Date{}, err
	}
	if rest != "" {
		return Date{}, fmt.Errorf("invalid date %q: trailing %q", s, rest)
	}
	return Date{Value: time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC), Precision: prec}, nil
}

// ParseTime parses [T]hh[:mm[:ss[.fff]]].
func ParseTime(s string) (Time, error) {
	clock := strings.TrimPrefix(s, "T")
	h, mi, sec, nsec, prec, rest, err := scanClock(clock)
	if err != nil {
		return Time{}, fmt.Errorf("invalid time %q: %w", s, err)
	}
	if rest != "" {
		return Time{}, fmt.Errorf("invalid time %q: trailing %q", s, rest)
	}
	return Time{Value: time.Date(0, time.January, 1, h, mi, sec, nsec, time.UTC), Precision: prec}, nil
}

// ParseDateTime parses a date optionally followed by 'T', a clock time and
// a zone offset. A bare trailing 'T' keeps the precision of the date part.
func ParseDateTime(s string) (DateTime, error) {
	y, m, d, prec, rest, err := scanDate(s)
	if err != nil {
		return DateTime{}, err
	}
	if rest == "" {
		return DateTime{Value: time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC), Precision: prec}, nil
	}
	if rest[0] != 'T' {
		return DateTime{}, fmt.Errorf("invalid date time %q: expected 'T'", s)
	}
	rest = rest[1:]
	if rest == "" {
		return DateTime{Value: time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC), Precision: prec}, nil
	}
	if prec != PrecisionDay {
		return DateTime{}, fmt.Errorf("invalid date time %q: time requires a full date", s)
	}
	h, mi, sec, nsec, prec, rest, err := scanClock(rest)
	if err != nil {
		return DateTime{}, fmt.Errorf("invalid date time %q: %w", s, err)
	}
	loc, hasZone, err := scanZone(rest)
	if err != nil {
		return DateTime{}, fmt.Errorf("invalid date time %q: %w", s, err)
	}
	return DateTime{
		Value:       time.Date(y, time.Month(m), d, h, mi, sec, nsec, loc),
		Precision:   prec,
		HasTimeZone: hasZone,
	}, nil
}

func scanDigits(s string, n int) (int, string, bool) {
	if len(s) < n {
		return 0, s, false
	}
	for i := 0; i < n; i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, s, false
		}
	}
	v, _ := strconv.Atoi(s[:n])
	return v, s[n:], true
}

func scanDate(s string) (y, m, d int, prec Precision, rest string, err error) {
	m, d = 1, 1
	y, rest, ok := scanDigits(s, 4)
	if !ok {
		return 0, 0, 0, 0, s, fmt.Errorf("invalid date %q: expected year", s)
	}
	prec = PrecisionYear
	if strings.HasPrefix(rest, "-") {
		if m, rest, ok = scanDigits(rest[1:], 2); !ok || m < 1 || m > 12 {
			return 0, 0, 0, 0, s, fmt.Errorf("invalid date %q: bad month", s)
		}
		prec = PrecisionMonth
		if strings.HasPrefix(rest, "-") {
			if d, rest, ok = scanDigits(rest[1:], 2); !ok || d < 1 || d > daysIn(y, time.Month(m)) {
				return 0, 0, 0, 0, s, fmt.Errorf("invalid date %q: bad day", s)
			}
			prec = PrecisionDay
		}
	}
	return y, m, d, prec, rest, nil
}

func scanClock(s string) (h, mi, sec, nsec int, prec Precision, rest string, err error) {
	h, rest, ok := scanDigits(s, 2)
	if !ok || h > 23 {
		return 0, 0, 0, 0, 0, s, fmt.Errorf("bad hour")
	}
	prec = PrecisionHour
	if !strings.HasPrefix(rest, ":") {
		return h, 0, 0, 0, prec, rest, nil
	}
	if mi, rest, ok = scanDigits(rest[1:], 2); !ok || mi > 59 {
		return 0, 0, 0, 0, 0, s, fmt.Errorf("bad minute")
	}
	prec = PrecisionMinute
	if !strings.HasPrefix(rest, ":") {
		return h, mi, 0, 0, prec, rest, nil
	}
	if sec, rest, ok = scanDigits(rest[1:], 2); !ok || sec > 59 {
		return 0, 0, 0, 0, 0, s, fmt.Errorf("bad second")
	}
	prec = PrecisionSecond
	if !strings.HasPrefix(rest, ".") {
		return h, mi, sec, 0, prec, rest, nil
	}
	rest = rest[1:]
	n := 0
	for n < len(rest) && rest[n] >= '0' && rest[n] <= '9' {
		n++
	}
	if n == 0 {
		return 0, 0, 0, 0, 0, s, fmt.Errorf("bad fraction")
	}
	frac := rest[:n]
	if len(frac) > 9 {
		frac = frac[:9]
	}
	nsec, _ = strconv.Atoi(frac + strings.Repeat("0", 9-len(frac)))
	// only milliseconds are significant
	nsec = nsec / int(time.Millisecond) * int(time.Millisecond)
	return h, mi, sec, nsec, PrecisionMillisecond, rest[n:], nil
}

func scanZone(s string) (*time.Location, bool, error) {
	switch {
	case s == "":
		return time.UTC, false, nil
	case s == "Z":
		return time.UTC, true, nil
	case s[0] == '+' || s[0] == '-':
		h, rest, ok := scanDigits(s[1:], 2)
		if !ok || !strings.HasPrefix(rest, ":") {
			return nil, false, fmt.Errorf("bad zone offset %q", s)
		}
		m, rest, ok := scanDigits(rest[1:], 2)
		if !ok || rest != "" || m > 59 {
			return nil, false, fmt.Errorf("bad zone offset %q", s)
		}
		offset := h*3600 + m*60
		if s[0] == '-' {
			offset = -offset
		}
		if offset < minZoneOffsetHours*3600 || offset > maxZoneOffsetHours*3600 {
			return nil, false, fmt.Errorf("zone offset %q out of range", s)
		}
		return time.FixedZone("", offset), true, nil
	}
	return nil, false, fmt.Errorf("unexpected %q", s)
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// temporalFields lists the components of t down to prec.
func temporalFields(t time.Time, from, to Precision) []int {
	all := []int{
		t.Year(), int(t.Month()), t.Day(),
		t.Hour(), t.Minute(),
		// seconds and milliseconds compare as one decimal component
		t.Second()*1000 + t.Nanosecond()/int(time.Millisecond),
	}
	if to >= PrecisionSecond {
		to = PrecisionSecond
	}
	return all[from : to+1]
}

// compareTemporal compares component-wise. Equal common components with
// differing precision leave the result unknown.
func compareTemporal(a time.Time, ap Precision, b time.Time, bp Precision, from Precision) (int, bool) {
	ap, bp = min(ap, PrecisionSecond), min(bp, PrecisionSecond)
	common := min(ap, bp)
	af := temporalFields(a, from, common)
	bf := temporalFields(b, from, common)
	for i := range af {
		if c := compareInts(int64(af[i]), int64(bf[i])); c != 0 {
			return c, true
		}
	}
	if ap != bp {
		return 0, false
	}
	return 0, true
}

func (d Date) Children(name ...string) Collection { return nil }

func (d Date) ToString(explicit bool) (v String, ok bool, err error) {
	if !explicit {
		return "", false, implicitConversionError[Date, String](d)
	}
	return String(d.String()), true, nil
}
func (d Date) ToDate(explicit bool) (v Date, ok bool, err error) {
	return d, true, nil
}
func (d Date) ToDateTime(explicit bool) (v DateTime, ok bool, err error) {
	return DateTime{Value: d.Value, Precision: d.Precision}, true, nil
}
func (d Date) Equal(other Element) (eq bool, ok bool) {
	c, ok, err := d.Cmp(context.Background(), other)
	if err != nil {
		if o, isObj := other.(*Object); isObj {
			return o.Equal(d)
		}
		return false, true
	}
	return c == 0, ok
}
func (d Date) Equivalent(other Element) bool {
	switch o := other.(type) {
	case Date:
		return o.Precision == d.Precision && d.String() == o.String()
	case DateTime:
		dt, _, _ := d.ToDateTime(false)
		return dt.Equivalent(o)
	}
	return false
}
func (d Date) Cmp(ctx context.Context, other Element) (cmp int, ok bool, err error) {
	switch o := other.(type) {
	case Date:
		c, ok := compareTemporal(d.Value, d.Precision, o.Value, o.Precision, PrecisionYear)
		return c, ok, nil
	case DateTime:
		dt, _, _ := d.ToDateTime(false)
		return dt.Cmp(ctx, o)
	}
	return 0, false, incompatible("<", d, other)
}
func (d Date) Add(ctx context.Context, other Element) (Element, error) {
	return d.shift(ctx, other, 1)
}
func (d Date) Subtract(ctx context.Context, other Element) (Element, error) {
	return d.shift(ctx, other, -1)
}
func (d Date) shift(ctx context.Context, other Element, sign int) (Element, error) {
	q, ok := other.(Quantity)
	if !ok {
		return nil, incompatible("+", d, other)
	}
	unit, ok := calendarUnit(q.Unit)
	if !ok {
		return nil, fmt.Errorf("invalid unit %s for date arithmetic", q.Unit)
	}
	amount, err := wholeUnits(q)
	if err != nil {
		return nil, err
	}
	// units below a day are converted to whole days
	switch unit {
	case PrecisionHour:
		unit, amount = PrecisionDay, amount/24
	case PrecisionMinute:
		unit, amount = PrecisionDay, amount/(24*60)
	case PrecisionSecond:
		unit, amount = PrecisionDay, amount/(24*3600)
	case PrecisionMillisecond:
		unit, amount = PrecisionDay, amount/(24*3600*1000)
	}
	return Date{Value: addCalendar(d.Value, unit, int(amount)*sign, q.Unit), Precision: d.Precision}, nil
}
func (d Date) TypeInfo() TypeInfo { return systemType("Date") }
func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}
func (d Date) String() string {
	switch d.Precision {
	case PrecisionYear:
		return d.Value.Format("2006")
	case PrecisionMonth:
		return d.Value.Format("2006-01")
	}
	return d.Value.Format("2006-01-02")
}

// PrecisionDigits is the number of digits the value is specified to.
func (d Date) PrecisionDigits() int {
	return precisionDigits(d.Precision)
}

func (t Time) Children(name ...string) Collection { return nil }

func (t Time) ToString(explicit bool) (v String, ok bool, err error) {
	if !explicit {
		return "", false, implicitConversionError[Time, String](t)
	}
	return String(t.String()), true, nil
}
func (t Time) ToTime(explicit bool) (v Time, ok bool, err error) {
	return t, true, nil
}
func (t Time) Equal(other Element) (eq bool, ok bool) {
	c, ok, err := t.Cmp(context.Background(), other)
	if err != nil {
		return false, true
	}
	return c == 0, ok
}
func (t Time) Equivalent(other Element) bool {
	o, ok := other.(Time)
	if !ok || o.Precision != t.Precision {
		return false
	}
	eq, ok := t.Equal(o)
	return ok && eq
}
func (t Time) Cmp(ctx context.Context, other Element) (cmp int, ok bool, err error) {
	o, isTime := other.(Time)
	if !isTime {
		return 0, false, incompatible("<", t, other)
	}
	c, ok := compareTemporal(t.Value, t.Precision, o.Value, o.Precision, PrecisionHour)
	return c, ok, nil
}
func (t Time) Add(ctx context.Context, other Element) (Element, error) {
	return t.shift(other, 1)
}
func (t Time) Subtract(ctx context.Context, other Element) (Element, error) {
	return t.shift(other, -1)
}
func (t Time) shift(other Element, sign int) (Element, error) {
	q, ok := other.(Quantity)
	if !ok {
		return nil, incompatible("+", t, other)
	}
	unit, ok := calendarUnit(q.Unit)
	if !ok || unit < PrecisionHour {
		return nil, fmt.Errorf("invalid unit %s for time arithmetic", q.Unit)
	}
	d := durationOf(q, unit) * time.Duration(sign)
	day := 24 * time.Hour
	offset := (time.Duration(t.Value.Hour())*time.Hour +
		time.Duration(t.Value.Minute())*time.Minute +
		time.Duration(t.Value.Second())*time.Second +
		time.Duration(t.Value.Nanosecond()) + d) % day
	if offset < 0 {
		offset += day
	}
	return Time{Value: time.Date(0, time.January, 1, 0, 0, 0, 0, time.UTC).Add(offset), Precision: t.Precision}, nil
}
func (t Time) TypeInfo() TypeInfo { return systemType("Time") }
func (t Time) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}
func (t Time) String() string {
	return formatClock(t.Value, t.Precision)
}

// PrecisionDigits is the number of digits the value is specified to.
func (t Time) PrecisionDigits() int {
	return precisionDigits(t.Precision) - 8
}

func formatClock(v time.Time, p Precision) string {
	switch p {
	case PrecisionHour:
		return v.Format("15")
	case PrecisionMinute:
		return v.Format("15:04")
	case PrecisionSecond:
		return v.Format("15:04:05")
	}
	return v.Format("15:04:05.000")
}

func (dt DateTime) Children(name ...string) Collection { return nil }

func (dt DateTime) ToString(explicit bool) (v String, ok bool, err error) {
	if !explicit {
		return "", false, implicitConversionError[DateTime, String](dt)
	}
	return String(dt.String()), true, nil
}
func (dt DateTime) ToDate(explicit bool) (v Date, ok bool, err error) {
	if !explicit {
		return Date{}, false, implicitConversionError[DateTime, Date](dt)
	}
	return Date{Value: dt.Value, Precision: min(dt.Precision, PrecisionDay)}, true, nil
}
func (dt DateTime) ToDateTime(explicit bool) (v DateTime, ok bool, err error) {
	return dt, true, nil
}
func (dt DateTime) Equal(other Element) (eq bool, ok bool) {
	c, ok, err := dt.Cmp(context.Background(), other)
	if err != nil {
		if o, isObj := other.(*Object); isObj {
			return o.Equal(dt)
		}
		return false, true
	}
	return c == 0, ok
}
func (dt DateTime) Equivalent(other Element) bool {
	var o DateTime
	switch v := other.(type) {
	case DateTime:
		o = v
	case Date:
		o, _, _ = v.ToDateTime(false)
	default:
		return false
	}
	if o.Precision != dt.Precision {
		return false
	}
	eq, ok := dt.Equal(o)
	return ok && eq
}
func (dt DateTime) Cmp(ctx context.Context, other Element) (cmp int, ok bool, err error) {
	var o DateTime
	switch v := other.(type) {
	case DateTime:
		o = v
	case Date:
		o, _, _ = v.ToDateTime(false)
	default:
		return 0, false, incompatible("<", dt, other)
	}
	a, b := dt.Value, o.Value
	if dt.Precision >= PrecisionHour && o.Precision >= PrecisionHour {
		a, b = a.UTC(), b.UTC()
	}
	c, ok := compareTemporal(a, dt.Precision, b, o.Precision, PrecisionYear)
	return c, ok, nil
}
func (dt DateTime) Add(ctx context.Context, other Element) (Element, error) {
	return dt.shift(other, 1)
}
func (dt DateTime) Subtract(ctx context.Context, other Element) (Element, error) {
	return dt.shift(other, -1)
}
func (dt DateTime) shift(other Element, sign int) (Element, error) {
	q, ok := other.(Quantity)
	if !ok {
		return nil, incompatible("+", dt, other)
	}
	unit, ok := calendarUnit(q.Unit)
	if !ok {
		return nil, fmt.Errorf("invalid unit %s for date time arithmetic", q.Unit)
	}
	var v time.Time
	if unit <= PrecisionDay {
		amount, err := wholeUnits(q)
		if err != nil {
			return nil, err
		}
		v = addCalendar(dt.Value, unit, int(amount)*sign, q.Unit)
	} else {
		v = dt.Value.Add(durationOf(q, unit) * time.Duration(sign))
	}
	return DateTime{Value: v, Precision: dt.Precision, HasTimeZone: dt.HasTimeZone}, nil
}
func (dt DateTime) TypeInfo() TypeInfo { return systemType("DateTime") }
func (dt DateTime) MarshalJSON() ([]byte, error) {
	return json.Marshal(dt.String())
}
func (dt DateTime) String() string {
	if dt.Precision <= PrecisionDay {
		return Date{Value: dt.Value, Precision: dt.Precision}.String()
	}
	s := dt.Value.Format("2006-01-02") + "T" + formatClock(dt.Value, dt.Precision)
	if dt.HasTimeZone {
		s += dt.Value.Format("Z07:00")
	}
	return s
}

// PrecisionDigits is the number of digits the value is specified to.
func (dt DateTime) PrecisionDigits() int {
	return precisionDigits(dt.Precision)
}

func precisionDigits(p Precision) int {
	return [...]int{4, 6, 8, 10, 12, 14, 17}[p]
}

func precisionFromDigits(digits int) (Precision, bool) {
	for p := PrecisionYear; p <= PrecisionMillisecond; p++ {
		if precisionDigits(p) == digits {
			return p, true
		}
	}
	return 0, false
}

// calendarUnit maps calendar keywords and UCUM time units to a precision.
func calendarUnit(unit String) (Precision, bool) {
	switch unit {
	case "year", "years", "a":
		return PrecisionYear, true
	case "month", "months", "mo":
		return PrecisionMonth, true
	case "week", "weeks", "wk":
		// weeks are handled as seven days
		return PrecisionDay, true
	case "day", "days", "d":
		return PrecisionDay, true
	case "hour", "hours", "h":
		return PrecisionHour, true
	case "minute", "minutes", "min":
		return PrecisionMinute, true
	case "second", "seconds", "s":
		return PrecisionSecond, true
	case "millisecond", "milliseconds", "ms":
		return PrecisionMillisecond, true
	}
	return 0, false
}

func isWeekUnit(unit String) bool {
	return unit == "week" || unit == "weeks" || unit == "wk"
}

// addCalendar adds whole calendar units, clamping to the last day of the
// resulting month.
func addCalendar(t time.Time, unit Precision, amount int, raw String) time.Time {
	switch unit {
	case PrecisionYear, PrecisionMonth:
		months := amount
		if unit == PrecisionYear {
			months = amount * 12
		}
		total := int(t.Month()) - 1 + months
		year := t.Year() + total/12
		month := total % 12
		if month < 0 {
			month += 12
			year--
		}
		day := min(t.Day(), daysIn(year, time.Month(month+1)))
		return time.Date(year, time.Month(month+1), day, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	}
	if isWeekUnit(raw) {
		amount *= 7
	}
	return t.AddDate(0, 0, amount)
}

// wholeUnits truncates the quantity value; calendar arithmetic ignores
// fractions.
func wholeUnits(q Quantity) (int64, error) {
	var whole, frac apd.Decimal
	q.Value.Value.Modf(&whole, &frac)
	n, err := whole.Int64()
	if err != nil {
		return 0, fmt.Errorf("quantity %v out of range for calendar arithmetic", q)
	}
	return n, nil
}

func durationOf(q Quantity, unit Precision) time.Duration {
	var scale time.Duration
	switch unit {
	case PrecisionHour:
		scale = time.Hour
	case PrecisionMinute:
		scale = time.Minute
	case PrecisionSecond:
		scale = time.Second
	default:
		scale = time.Millisecond
	}
	f, err := q.Value.Value.Float64()
	if err != nil {
		return 0
	}
	// sub-millisecond fractions are not representable
	return time.Duration(f*float64(scale/time.Millisecond)) * time.Millisecond
}

// dateTimeBoundary returns the earliest or latest instant the value could stand
// for, expressed at precision out.
func dateTimeBoundary(dt DateTime, out Precision, upper bool) DateTime {
	v := dt.Value
	y, mo, d := v.Date()
	h, mi, s, ns := v.Hour(), v.Minute(), v.Second(), v.Nanosecond()
	if upper {
		if dt.Precision < PrecisionMonth {
			mo = time.December
		}
		if dt.Precision < PrecisionDay {
			d = daysIn(y, mo)
		}
		if dt.Precision < PrecisionHour {
			h = 23
		}
		if dt.Precision < PrecisionMinute {
			mi = 59
		}
		if dt.Precision < PrecisionSecond {
			s = 59
		}
		if dt.Precision < PrecisionMillisecond {
			ns = 999 * int(time.Millisecond)
		}
	} else {
		if dt.Precision < PrecisionMonth {
			mo = time.January
		}
		if dt.Precision < PrecisionDay {
			d = 1
		}
		if dt.Precision < PrecisionHour {
			h, mi, s, ns = 0, 0, 0, 0
		}
	}
	loc, hasZone := v.Location(), dt.HasTimeZone
	if !hasZone && out >= PrecisionHour {
		// an unknown zone could be anywhere in the offset range
		offset := maxZoneOffsetHours
		if upper {
			offset = minZoneOffsetHours
		}
		loc, hasZone = time.FixedZone("", offset*3600), true
	}
	return DateTime{
		Value:       time.Date(y, mo, d, h, mi, s, ns, loc),
		Precision:   out,
		HasTimeZone: hasZone && out >= PrecisionHour,
	}
}

// LowBoundary returns the earliest value at the given precision digits.
func (dt DateTime) LowBoundary(digits int) (DateTime, bool) {
	p, ok := precisionFromDigits(digits)
	if !ok {
		return DateTime{}, false
	}
	return dateTimeBoundary(dt, p, false), true
}

// HighBoundary returns the latest value at the given precision digits.
func (dt DateTime) HighBoundary(digits int) (DateTime, bool) {
	p, ok := precisionFromDigits(digits)
	if !ok {
		return DateTime{}, false
	}
	return dateTimeBoundary(dt, p, true), true
}

func (d Date) LowBoundary(digits int) (Date, bool) {
	p, ok := precisionFromDigits(digits)
	if !ok || p > PrecisionDay {
		return Date{}, false
	}
	b := dateTimeBoundary(DateTime{Value: d.Value, Precision: d.Precision}, p, false)
	return Date{Value: b.Value, Precision: p}, true
}

func (d Date) HighBoundary(digits int) (Date, bool) {
	p, ok := precisionFromDigits(digits)
	if !ok || p > PrecisionDay {
		return Date{}, false
	}
	b := dateTimeBoundary(DateTime{Value: d.Value, Precision: d.Precision}, p, true)
	return Date{Value: b.Value, Precision: p}, true
}

func (t Time) boundary(digits int, upper bool) (Time, bool) {
	p, ok := precisionFromDigits(digits + 8)
	if !ok || p < PrecisionHour {
		return Time{}, false
	}
	b := dateTimeBoundary(DateTime{Value: t.Value, Precision: t.Precision, HasTimeZone: true}, p, upper)
	return Time{Value: b.Value, Precision: p}, true
}

func (t Time) LowBoundary(digits int) (Time, bool)  { return t.boundary(digits, false) }
func (t Time) HighBoundary(digits int) (Time, bool) { return t.boundary(digits, true) }
