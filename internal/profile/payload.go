package profile

// Payload is the display projection stored next to a vector in the index.
// Keys follow the questionnaire field names.
type Payload map[string]any

// ToPayload projects every matchable field of p.
func ToPayload(p Profile) Payload {
	langs := make([]string, len(p.LoveLanguages))
	for i, l := range p.LoveLanguages {
		langs[i] = string(l)
	}
	return Payload{
		"name":                    p.Name,
		"age":                     p.Age,
		"location":                p.Location,
		"social_energy":           string(p.SocialEnergy),
		"hobbies":                 p.Hobbies,
		"conversation_preference": string(p.ConversationPreference),
		"communication_frequency": p.CommunicationFrequency,
		"love_languages":          langs,
		"personality_season":      p.PersonalitySeason,
		"trait":                   p.Trait,
		"recharge_style":          p.RechargeStyle,
		"cancellation_reaction":   p.CancellationReaction,
	}
}

// FromPayload rebuilds a profile from a payload. Payloads decoded from JSON
// carry love_languages as []any; both shapes are accepted. Unknown keys and
// values of the wrong type are ignored.
func FromPayload(id string, pl Payload) Profile {
	p := Profile{
		ID:                     id,
		Name:                   str(pl["name"]),
		Age:                    str(pl["age"]),
		Location:               str(pl["location"]),
		SocialEnergy:           SocialEnergy(str(pl["social_energy"])),
		Hobbies:                str(pl["hobbies"]),
		ConversationPreference: ConversationPreference(str(pl["conversation_preference"])),
		CommunicationFrequency: str(pl["communication_frequency"]),
		PersonalitySeason:      str(pl["personality_season"]),
		Trait:                  str(pl["trait"]),
		RechargeStyle:          str(pl["recharge_style"]),
		CancellationReaction:   str(pl["cancellation_reaction"]),
	}
	switch v := pl["love_languages"].(type) {
	case []string:
		for _, s := range v {
			p.LoveLanguages = append(p.LoveLanguages, LoveLanguage(s))
		}
	case []LoveLanguage:
		p.LoveLanguages = append(p.LoveLanguages, v...)
	case []any:
		for _, e := range v {
			if s, ok := e.(string); ok {
				p.LoveLanguages = append(p.LoveLanguages, LoveLanguage(s))
			}
		}
	}
	return p
}

func str(v any) string {
	s, _ := v.(string)
	return s
}
