package profile

import "strings"

const unknown = "unknown"

// Canonicalize renders a profile as a short first-person description. The
// output depends only on the field values, so equal profiles always produce
// byte-identical text. Blank answers render as "unknown" and an empty love
// language list renders as "none".
func Canonicalize(p Profile) string {
	var b strings.Builder

	sentence(&b, "My name is ", orUnknown(p.Name), ", I'm ", orUnknown(p.Age), " years old from ", orUnknown(p.Location), ".")

	if p.SocialEnergy.Valid() {
		sentence(&b, "I'm an ", string(p.SocialEnergy), " and enjoy ", orUnknown(p.Hobbies), ".")
	} else {
		sentence(&b, "My social energy is ", orUnknown(string(p.SocialEnergy)), " and I enjoy ", orUnknown(p.Hobbies), ".")
	}

	switch p.ConversationPreference {
	case Group:
		sentence(&b, "I prefer group activities.")
	case OneOnOne:
		sentence(&b, "I prefer deep 1-on-1 conversations.")
	default:
		sentence(&b, "I have no stated conversation preference.")
	}

	sentence(&b, "I like to text or check in with friends: ", orUnknown(p.CommunicationFrequency), ".")
	sentence(&b, "My love languages in friendship are: ", loveLanguageList(p.LoveLanguages), ".")
	sentence(&b, "If my personality were a season, it would be: ", orUnknown(p.PersonalitySeason), ".")
	sentence(&b, "When someone cancels plans last minute, I feel: ", orUnknown(p.CancellationReaction), ".")
	sentence(&b, "To recharge, I usually: ", orUnknown(p.RechargeStyle), ".")
	sentence(&b, "A personal habit I'm proud of is: ", orUnknown(p.Trait), ".")

	return b.String()
}

func sentence(b *strings.Builder, parts ...string) {
	if b.Len() > 0 {
		b.WriteByte(' ')
	}
	for _, s := range parts {
		b.WriteString(s)
	}
}

func orUnknown(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return unknown
	}
	return s
}

func loveLanguageList(ls []LoveLanguage) string {
	labels := make([]string, 0, len(ls))
	for _, l := range ls {
		s := strings.TrimSpace(l.Label())
		if s == "" {
			continue
		}
		labels = append(labels, s)
	}
	if len(labels) == 0 {
		return "none"
	}
	return strings.Join(labels, ", ")
}
