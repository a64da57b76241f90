package domain

import "time"

// Policy is the business configuration of the booking flow. Revisions of the
// flow disagreed on slots, thresholds and whether the birthday is mandatory,
// so all of it is data rather than literals.
type Policy struct {
	Slots               []string      `yaml:"slots" validate:"required,min=1,dive,len=5"`
	OpenAt              string        `yaml:"open_at" validate:"required,len=5"`
	CloseAt             string        `yaml:"close_at" validate:"required,len=5"`
	LargeGroupThreshold int           `yaml:"large_group_threshold" validate:"gte=1"`
	MaxAdults           int           `yaml:"max_adults" validate:"gte=1"`
	MaxChildren         int           `yaml:"max_children" validate:"gte=0"`
	Tolerance           time.Duration `yaml:"tolerance" validate:"gt=0"`
	AdmissionWindow     time.Duration `yaml:"admission_window" validate:"gtfield=Tolerance"`
	BirthdayRequired    bool          `yaml:"birthday_required"`
	ProbeTimes          []string      `yaml:"probe_times" validate:"required,min=1,dive,len=5"`
	ProbeDelay          time.Duration `yaml:"probe_delay" validate:"gte=0"`
	WaitMessageEvery    time.Duration `yaml:"wait_message_every" validate:"gt=0"`
	StatusPollEvery     time.Duration `yaml:"status_poll_every" validate:"gt=0"`
}

// DefaultPolicy is the canonical policy set used when no policy file is given.
func DefaultPolicy() Policy {
	return Policy{
		Slots:               []string{"12:00", "12:30", "13:00", "18:00", "18:30", "19:00"},
		OpenAt:              "12:00",
		CloseAt:             "21:30",
		LargeGroupThreshold: 40,
		MaxAdults:           60,
		MaxChildren:         20,
		Tolerance:           15 * time.Minute,
		AdmissionWindow:     45 * time.Minute,
		BirthdayRequired:    true,
		ProbeTimes:          []string{"12:00", "19:00"},
		ProbeDelay:          150 * time.Millisecond,
		WaitMessageEvery:    1300 * time.Millisecond,
		StatusPollEvery:     5 * time.Second,
	}
}
