package evaluation

import (
	"strings"
	"unicode"
)

// Lexicon holds the bilingual phrase lists the rubric matches against.
// Phrases are normalized with normalize before matching.
type Lexicon struct {
	Greetings     []string
	Closings      []string
	Verification  []string
	Prohibited    []string
	Empathy       []string
	Resolution    []string
	Unresolved    []string
	Positive      []string
	Negative      []string
	Fillers       []string
	ComplaintLow  []string
	ComplaintMed  []string
	ComplaintHigh []string
}

// DefaultLexicon covers English and Modern Standard / Gulf Arabic.
func DefaultLexicon() Lexicon {
	l := Lexicon{
		Greetings: []string{
			"thank you for calling", "thanks for calling", "good morning", "good afternoon", "good evening",
			"welcome to", "my name is", "how can i help", "how may i help", "how can i assist",
			"شكرا لاتصالك", "السلام عليكم", "مرحبا", "صباح الخير", "مساء الخير", "معك", "كيف يمكنني مساعدتك", "كيف اقدر اساعدك",
		},
		Closings: []string{
			"anything else", "have a nice day", "have a great day", "have a good day", "thank you for your patience",
			"goodbye", "bye", "take care",
			"هل هناك اي شيء اخر", "يوم سعيد", "مع السلامة", "شكرا لتواصلك", "في امان الله",
		},
		Verification: []string{
			"verify", "verification", "confirm your", "account number", "date of birth", "security question",
			"last four digits", "postcode", "zip code",
			"للتحقق", "تاكيد", "رقم الحساب", "تاريخ الميلاد", "رقم الهويه",
		},
		Prohibited: []string{
			"shut up", "not my problem", "calm down", "whatever", "you're wrong", "stupid", "i don't care",
			"that's not my job",
			"ليست مشكلتي", "اهدا", "اسكت", "لا يهمني",
		},
		Empathy: []string{
			"i understand", "i'm sorry", "i am sorry", "i apologize", "apologies", "i can imagine",
			"that must be", "i appreciate", "sorry to hear", "frustrating",
			"اتفهم", "اعتذر", "اسف", "نعتذر", "اقدر", "نأسف",
		},
		Resolution: []string{
			"resolved", "i have issued", "i've issued", "fixed", "refund", "processed", "completed",
			"sorted", "taken care of", "will arrive", "is now active", "has been updated",
			"تم حل", "تم اصدار", "تم اصلاح", "استرداد", "تمت معالجه", "تم تحديث",
		},
		Unresolved: []string{
			"still not working", "not resolved", "escalate", "call back later", "cannot help", "can't help",
			"nothing i can do", "no solution",
			"لم يتم حل", "لا يزال", "تصعيد", "لا استطيع المساعده",
		},
		Positive: []string{
			"thanks", "thank you", "great", "perfect", "excellent", "appreciate", "happy", "good", "wonderful",
			"helpful", "quickly",
			"شكرا", "ممتاز", "رائع", "جيد", "ممتن", "سعيد",
		},
		Negative: []string{
			"angry", "terrible", "ridiculous", "frustrated", "unacceptable", "worst", "cancel", "complaint",
			"disappointed", "useless", "annoyed", "wrong", "never",
			"غاضب", "سيء", "غير مقبول", "شكوى", "الغاء", "محبط", "زعلان",
		},
		Fillers: []string{
			"um", "uh", "er", "erm", "hmm", "uhm", "ah",
			"يعني", "اممم", "ااا",
		},
		ComplaintLow: []string{
			"not happy", "issue", "problem", "wrong", "charged twice", "refund",
			"مشكله", "خطا", "استرداد",
		},
		ComplaintMed: []string{
			"complaint", "complain", "unacceptable", "frustrated", "angry", "disappointed", "again",
			"شكوى", "غير مقبول", "غاضب", "مره اخرى",
		},
		ComplaintHigh: []string{
			"lawyer", "legal action", "cancel my", "worst", "report you", "regulator", "never again",
			"محامي", "الغاء", "اسوا", "ساشتكي",
		},
	}
	for _, list := range []*[]string{
		&l.Greetings, &l.Closings, &l.Verification, &l.Prohibited, &l.Empathy, &l.Resolution,
		&l.Unresolved, &l.Positive, &l.Negative, &l.Fillers, &l.ComplaintLow, &l.ComplaintMed, &l.ComplaintHigh,
	} {
		for i, p := range *list {
			(*list)[i] = normalize(p)
		}
	}
	return l
}

// normalize lowercases, strips Arabic diacritics and tatweel, folds alef
// and taa marbuta variants, and reduces punctuation to single spaces.
func normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	space := true
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 0x064B && r <= 0x0652, r == 0x0640:
			continue
		case r == 'أ' || r == 'إ' || r == 'آ':
			r = 'ا'
		case r == 'ة':
			r = 'ه'
		case r == 'ى':
			r = 'ي'
		case r == '’':
			r = '\''
		}
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '\'' {
			b.WriteRune(r)
			space = false
			continue
		}
		if !space {
			b.WriteByte(' ')
			space = true
		}
	}
	return strings.TrimSpace(b.String())
}

func isArabic(s string) bool {
	for _, r := range s {
		if unicode.Is(unicode.Arabic, r) {
			return true
		}
	}
	return false
}

// contains matches a normalized phrase in normalized text. English phrases
// match on word boundaries; Arabic phrases match as substrings because of
// attached clitics.
func contains(text, phrase string) bool {
	if phrase == "" {
		return false
	}
	if isArabic(phrase) {
		return strings.Contains(text, phrase)
	}
	return strings.Contains(" "+text+" ", " "+phrase+" ")
}

func countAny(text string, phrases []string) int {
	n := 0
	for _, p := range phrases {
		if contains(text, p) {
			n++
		}
	}
	return n
}

func matchAny(text string, phrases []string) bool {
	return countAny(text, phrases) > 0
}

// polarity is (pos-neg)/(pos+neg) over lexicon hits, 0 when none.
func (l Lexicon) polarity(text string) float64 {
	pos := countAny(text, l.Positive)
	neg := countAny(text, l.Negative)
	if pos+neg == 0 {
		return 0
	}
	return float64(pos-neg) / float64(pos+neg)
}
