package profile

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalid is returned when a profile is missing its identifier or carries
// a categorical value outside its enumeration.
var ErrInvalid = errors.New("invalid profile")

// SocialEnergy is how a person tends to spend and regain social energy.
type SocialEnergy string

const (
	Introvert SocialEnergy = "introvert"
	Ambivert  SocialEnergy = "ambivert"
	Extrovert SocialEnergy = "extrovert"
)

// ConversationPreference is the binary choice between deep one-on-one talks
// and group activities.
type ConversationPreference string

const (
	OneOnOne ConversationPreference = "one_on_one"
	Group    ConversationPreference = "group"
)

// LoveLanguage is one of the five friendship love languages.
type LoveLanguage string

const (
	WordsOfAffirmation LoveLanguage = "words_of_affirmation"
	ActsOfService      LoveLanguage = "acts_of_service"
	ReceivingGifts     LoveLanguage = "receiving_gifts"
	QualityTime        LoveLanguage = "quality_time"
	PhysicalTouch      LoveLanguage = "physical_touch"
)

var loveLanguageLabels = map[LoveLanguage]string{
	WordsOfAffirmation: "Words of Affirmation",
	ActsOfService:      "Acts of Service",
	ReceivingGifts:     "Receiving Gifts",
	QualityTime:        "Quality Time",
	PhysicalTouch:      "Physical Touch",
}

// LoveLanguages lists the enumeration in questionnaire order.
var LoveLanguages = []LoveLanguage{
	WordsOfAffirmation, ActsOfService, ReceivingGifts, QualityTime, PhysicalTouch,
}

// Label returns the questionnaire label, or the raw value for unknown keys.
func (l LoveLanguage) Label() string {
	if s, ok := loveLanguageLabels[l]; ok {
		return s
	}
	return string(l)
}

// Valid reports whether l is part of the enumeration.
func (l LoveLanguage) Valid() bool {
	_, ok := loveLanguageLabels[l]
	return ok
}

// Valid reports whether e is part of the enumeration.
func (e SocialEnergy) Valid() bool {
	switch e {
	case Introvert, Ambivert, Extrovert:
		return true
	}
	return false
}

// Valid reports whether c is part of the enumeration.
func (c ConversationPreference) Valid() bool {
	return c == OneOnOne || c == Group
}

// Profile is one person's completed questionnaire. ID is the only required
// field and is the key under which the profile is indexed.
type Profile struct {
	ID                     string                 `json:"id" yaml:"id"`
	Name                   string                 `json:"name,omitempty" yaml:"name"`
	Age                    string                 `json:"age,omitempty" yaml:"age"`
	Location               string                 `json:"location,omitempty" yaml:"location"`
	SocialEnergy           SocialEnergy           `json:"social_energy,omitempty" yaml:"social_energy"`
	Hobbies                string                 `json:"hobbies,omitempty" yaml:"hobbies"`
	ConversationPreference ConversationPreference `json:"conversation_preference,omitempty" yaml:"conversation_preference"`
	CommunicationFrequency string                 `json:"communication_frequency,omitempty" yaml:"communication_frequency"`
	LoveLanguages          []LoveLanguage         `json:"love_languages" yaml:"love_languages"`
	PersonalitySeason      string                 `json:"personality_season,omitempty" yaml:"personality_season"`
	Trait                  string                 `json:"trait,omitempty" yaml:"trait"`
	RechargeStyle          string                 `json:"recharge_style,omitempty" yaml:"recharge_style"`
	CancellationReaction   string                 `json:"cancellation_reaction,omitempty" yaml:"cancellation_reaction"`
}

// Validate checks the identifier and the categorical fields. Free-text
// answers are never inspected.
func (p Profile) Validate() error {
	if strings.TrimSpace(p.ID) == "" {
		return fmt.Errorf("%w: missing id", ErrInvalid)
	}
	if p.SocialEnergy != "" && !p.SocialEnergy.Valid() {
		return fmt.Errorf("%w: social_energy %q", ErrInvalid, p.SocialEnergy)
	}
	if p.ConversationPreference != "" && !p.ConversationPreference.Valid() {
		return fmt.Errorf("%w: conversation_preference %q", ErrInvalid, p.ConversationPreference)
	}
	for _, l := range p.LoveLanguages {
		if !l.Valid() {
			return fmt.Errorf("%w: love language %q", ErrInvalid, l)
		}
	}
	return nil
}
