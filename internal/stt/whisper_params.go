package stt

// whisperMaxContext returns the text-context limit for one window, or -1 to keep
// the engine default. whisper.cpp drops the initial prompt together with past
// text when the limit is zero, so a window with a prompt keeps the default.
func whisperMaxContext(p Params, prompt string) int {
	if p.ConditionOnPreviousText || prompt != "" {
		return -1
	}
	return 0
}
