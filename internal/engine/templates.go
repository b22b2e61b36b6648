package engine

import (
	"fmt"
	"strings"

	"github.com/medsense-ai/medsense/internal/storage"
)

// User-visible message templates. Emergency and degraded paths must stay
// distinct from ordinary answers, so each has its own text.
const (
	welcomeMsg = "👋 Welcome to MedSense AI.\n" +
		"Type your symptoms (e.g., 'I have fever and chills') or send an image.\n" +
		"📋 Type 'history' to see your past consultations\n" +
		"📋 Type 'clear' to start a new session\n" +
		"⚠️ I'm an AI assistant, not a doctor. For emergencies, visit a clinic."

	profileSetupMsg = "👋 Welcome to MedSense AI!\n\n" +
		"To provide you with more accurate medical analysis, I'd like to know a bit about you.\n\n" +
		"📅 Please tell me your age (or type 'skip' if you prefer not to share):"

	ageRetryMsg = "Please enter a valid age between 1 and 120, or type 'skip':"

	genderPromptMsg = "👤 Thank you! Now please tell me your gender (Male/Female/Other) or type 'skip':"

	genderRetryMsg = "Please enter Male, Female, Other, or type 'skip':"

	profileCompleteMsg = "✅ Profile saved!\n\n" +
		"💡 Tip: Mention your country anytime (e.g., 'United States', 'India') to receive disease outbreak alerts in your area.\n\n" +
		"How can I help you today?"

	emergencyMsg = "🚨 This may be urgent. Please visit a clinic or call your local emergency number immediately."

	degradedMsg = "I apologize, but I'm experiencing technical difficulties analyzing your request right now. " +
		"Please try again in a moment, or consult a healthcare professional if your concern is urgent."

	sessionClearedMsg = "Session cleared. You can start fresh with new symptoms and images."

	noHistoryMsg = "No medical history found."

	helpMsg = "Type your symptoms or send an image. You can provide text, image, or both.\n" +
		"📋 'history' shows past consultations, 'clear' starts a new session."

	followUpThanksMsg = "Thank you for the update! 🙏 I've noted how you're feeling. " +
		"Feel free to describe any new symptoms, or type 'history' to see past consultations."

	// FollowUpPromptMsg is sent by the reminder scheduler, 24 hours after a
	// diagnosis was recorded.
	FollowUpPromptMsg = "👋 Hi! Following up on our conversation yesterday — how are you feeling now? " +
		"Better, worse, or about the same?"
)

func historySummary(records []storage.Diagnosis) string {
	if len(records) == 0 {
		return noHistoryMsg
	}
	var b strings.Builder
	b.WriteString("📋 Your recent consultations:\n")
	for i, rec := range records {
		line := rec.Conclusion
		if line == "" {
			line = rec.Symptoms
		}
		fmt.Fprintf(&b, "%d. %s (%s)\n", i+1, firstLine(line), rec.CreatedAt.Format("Jan 2, 2006"))
	}
	return strings.TrimRight(b.String(), "\n")
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 120 {
		s = s[:117] + "..."
	}
	return s
}

func emergencyResponse(facilityPayload string) string {
	if facilityPayload == "" {
		return emergencyMsg + "\n\nIf you can, share your location and I will find the nearest facilities."
	}
	return emergencyMsg + "\n\n🏥 Nearby facilities:\n" + facilityPayload
}
