package config

// DefaultSystemDirective sets tone, scope limits and the no-diagnosis rule
const DefaultSystemDirective = `You are a caring mental health support companion. Your job is to listen, understand, and gently help.

Your role:
- Be a warm, supportive presence the person can share feelings with
- Help them feel heard and understood
- Gently offer perspective and hope
- Keep replies short, usually 2-4 sentences

Rules:
1. Listen first and ask what is bothering them
2. Validate feelings ("That sounds really hard")
3. Do not lecture or overwhelm with information
4. Ask questions that keep the conversation going
5. Use background knowledge sparingly and only when it helps

Never diagnose, prescribe, or give medical decisions. You are not a therapist or a doctor.`

// DefaultCrisisResponse is returned verbatim when crisis interception triggers
const DefaultCrisisResponse = `I'm concerned about what you're sharing.

Your safety is the top priority. Please reach out for immediate support:

Tele-MANAS: call 14416 or 1800-891-4416 (toll-free, 24/7)
iCall: 9152987821
Vandrevala Foundation: 1860-2662-345 (24/7)
International: https://findahelpline.com/

You are not alone. These feelings can get better with support.

If you are in immediate danger, please call 112 or go to your nearest emergency room.

I'm here when you're ready to talk more.`

// DefaultFallbackReply is committed when the generation service is unavailable
const DefaultFallbackReply = "I'm having a bit of trouble responding right now. Could you try again in a moment? I'm still here for you."

// DefaultRejectedReply is committed when the generation service refuses the content
const DefaultRejectedReply = "I'm not able to respond to that directly, but I'm still here to listen. Would you like to tell me more about how you're feeling?"

// DefaultDisclaimer may be appended to generated replies
const DefaultDisclaimer = "I am an AI assistant, not a licensed therapist or doctor. This is informational support, not medical advice. In an emergency, call Tele-MANAS at 14416 or 112."

// DefaultLexicon lists crisis indicators matched case-insensitively
func DefaultLexicon() []string {
	return []string{
		"suicide",
		"suicidal",
		"kill myself",
		"killing myself",
		"want to die",
		"wanna die",
		"end it all",
		"self-harm",
		"self harm",
		"cut myself",
		"cutting myself",
		"hurt myself",
		"end my life",
		"take my life",
		"don't want to live",
		"dont want to live",
		"better off dead",
		"no reason to live",
	}
}

// DefaultDomains returns the built-in knowledge domain catalog in priority order
func DefaultDomains() []DomainConfig {
	return []DomainConfig{
		{
			ID:          "cbt",
			Class:       "CbtBible",
			Description: "Cognitive behavior therapy basics: automatic thoughts, beliefs, cognitive distortions, worry and anxiety, and restructuring unhelpful thinking",
			Keywords: []string{
				"thoughts", "thinking", "beliefs", "automatic", "distortion", "negative",
				"mindset", "perspective", "anxious", "anxiety", "worry", "worried",
				"stressed", "stuck", "can't change", "nothing works", "what is", "symptoms",
			},
			Weight: 1,
		},
		{
			ID:          "mind_over_mood",
			Class:       "MindOverMood",
			Description: "Mind Over Mood worksheets and exercises for changing mood by examining thoughts, thought records, and behavioral experiments",
			Keywords: []string{
				"worksheet", "exercise", "practice", "activity", "technique", "tool",
				"thoughts", "beliefs", "mood", "sad", "depressed", "low",
			},
			Weight: 1,
		},
		{
			ID:          "dbt",
			Class:       "DbtManual",
			Description: "Dialectical behavior therapy skills: distress tolerance, emotion regulation, mindfulness, and interpersonal effectiveness handouts",
			Keywords: []string{
				"panic", "can't breathe", "overwhelming", "overwhelmed", "out of control",
				"emergency", "urgent", "desperate", "falling apart", "distress",
				"emotions", "angry", "skill", "skills", "worksheet",
			},
			Weight: 1,
		},
		{
			ID:          "act",
			Class:       "ActSimple",
			Description: "Acceptance and commitment therapy made simple: accepting difficult feelings, defusion, values, meaning and committed action",
			Keywords: []string{
				"feel", "feeling", "feelings", "stuck", "pointless", "values", "meaning",
				"purpose", "acceptance", "accept", "avoid", "try", "help me", "how do i",
			},
			Weight: 1,
		},
		{
			ID:          "nimh",
			Class:       "NimhArticles",
			Description: "NIMH health articles: facts about mental health conditions, symptoms, causes, treatments, and medication",
			Keywords: []string{
				"what is", "what are", "symptoms", "causes", "treatment", "medication",
				"define", "explain", "tell me about", "disorder", "depression", "diagnosis",
			},
			Weight: 0.9,
		},
		{
			ID:          "counseling",
			Class:       "Counseling",
			Description: "Counseling conversation examples showing warm, brief, empathetic replies",
			Keywords:    []string{"talk", "listen", "lonely", "alone"},
			Weight:      0.8,
			Style:       true,
		},
	}
}
