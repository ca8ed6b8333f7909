package profile

import "strings"

// Spellings accepted for categorical answers, keyed by their folded form.
// Matching is exact; "not a group person" must not become Group.
var (
	socialEnergyAliases = map[string]SocialEnergy{
		"introvert": Introvert,
		"ambivert":  Ambivert,
		"extrovert": Extrovert,
		"extravert": Extrovert,
	}

	conversationAliases = map[string]ConversationPreference{
		"one_on_one":                    OneOnOne,
		"one-on-one":                    OneOnOne,
		"1-on-1":                        OneOnOne,
		"deep one-on-one conversations": OneOnOne,
		"deep 1-on-1 conversations":     OneOnOne,
		"group":                         Group,
		"group activities":              Group,
	}

	loveLanguageAliases = func() map[string]LoveLanguage {
		m := make(map[string]LoveLanguage, 2*len(loveLanguageLabels))
		for k, label := range loveLanguageLabels {
			m[string(k)] = k
			m[fold(label)] = k
		}
		return m
	}()
)

func fold(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// Normalize maps questionnaire labels onto enumeration keys and trims
// surrounding whitespace. Values it does not recognise are kept as given so
// that Validate can report them.
func Normalize(p Profile) Profile {
	p.ID = strings.TrimSpace(p.ID)
	if v, ok := socialEnergyAliases[fold(string(p.SocialEnergy))]; ok {
		p.SocialEnergy = v
	} else {
		p.SocialEnergy = SocialEnergy(strings.TrimSpace(string(p.SocialEnergy)))
	}
	if v, ok := conversationAliases[fold(string(p.ConversationPreference))]; ok {
		p.ConversationPreference = v
	} else {
		p.ConversationPreference = ConversationPreference(strings.TrimSpace(string(p.ConversationPreference)))
	}

	if len(p.LoveLanguages) > 0 {
		out := make([]LoveLanguage, 0, len(p.LoveLanguages))
		for _, l := range p.LoveLanguages {
			s := strings.TrimSpace(string(l))
			if s == "" {
				continue
			}
			if v, ok := loveLanguageAliases[fold(s)]; ok {
				out = append(out, v)
				continue
			}
			out = append(out, LoveLanguage(s))
		}
		p.LoveLanguages = out
	}
	return p
}
