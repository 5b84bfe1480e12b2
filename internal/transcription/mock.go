package transcription

import (
	"context"

	"call-review-go/internal/types"
)

// Mock returns a scripted support call spread evenly over the recording.
// Enabled with USE_MOCK_TRANSCRIBE=true.
type Mock struct{}

var mockScriptEN = []string{
	"Thank you for calling, my name is Sara, how can I help you today?",
	"Hi, I was charged twice for my order 4521 and I want a refund.",
	"I'm sorry to hear that, I understand how frustrating that is. Can you confirm your account number for verification?",
	"Sure, it's 88 31 20.",
	"Thank you. I can see the duplicate charge and I have issued the refund, it will arrive in 3 to 5 days.",
	"Great, thanks for sorting that out so quickly.",
	"You're welcome. Is there anything else I can help you with? Have a nice day.",
}

var mockScriptAR = []string{
	"شكرا لاتصالك، معك سارة، كيف يمكنني مساعدتك اليوم؟",
	"مرحبا، تم خصم المبلغ مرتين على الطلب 4521 وأريد استرداد المبلغ.",
	"أعتذر عن ذلك وأتفهم انزعاجك. هل يمكنك تأكيد رقم الحساب للتحقق؟",
	"نعم، الرقم هو 883120.",
	"شكرا لك. تم حل المشكلة وإصدار الاسترداد عبر Visa خلال 3 إلى 5 أيام.",
	"ممتاز، شكرا جزيلا.",
	"على الرحب والسعة. هل هناك أي شيء آخر؟ يوم سعيد.",
}

func (Mock) Transcribe(_ context.Context, req Request) (Response, error) {
	script, lang := mockScriptEN, types.LangEnglish
	if req.Language == types.LangArabic {
		script, lang = mockScriptAR, types.LangArabic
	}
	dur := req.DurationMs
	if dur <= 0 {
		dur = int64(len(script)) * 4000
	}
	slot := dur / int64(len(script))
	out := Response{Language: string(lang)}
	for i, line := range script {
		speaker := "SPEAKER_00"
		if i%2 == 1 {
			speaker = "SPEAKER_01"
		}
		start := int64(i) * slot
		end := start + slot*9/10
		out.Segments = append(out.Segments, Segment{
			StartMs:    start,
			EndMs:      end,
			Speaker:    speaker,
			Text:       line,
			Confidence: 0.92,
			Language:   string(lang),
		})
	}
	return out, nil
}
