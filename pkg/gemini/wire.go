package gemini

// Wire types for the BidiGenerateContent websocket protocol. Both directions
// carry a single JSON object per message with exactly one populated field.

type clientMessage struct {
	Setup         *liveSetup     `json:"setup,omitempty"`
	RealtimeInput *realtimeInput `json:"realtimeInput,omitempty"`
}

type liveSetup struct {
	Model            string `json:"model"`
	GenerationConfig struct {
		ResponseModalities []string          `json:"responseModalities"`
		SpeechConfig       *liveSpeechConfig `json:"speechConfig,omitempty"`
	} `json:"generationConfig"`
	SystemInstruction        *liveContent `json:"systemInstruction,omitempty"`
	InputAudioTranscription  *struct{}    `json:"inputAudioTranscription,omitempty"`
	OutputAudioTranscription *struct{}    `json:"outputAudioTranscription,omitempty"`
}

type liveSpeechConfig struct {
	VoiceConfig liveVoiceConfig `json:"voiceConfig"`
}

type liveVoiceConfig struct {
	PrebuiltVoiceConfig livePrebuiltVoice `json:"prebuiltVoiceConfig"`
}

type livePrebuiltVoice struct {
	VoiceName string `json:"voiceName"`
}

type realtimeInput struct {
	MediaChunks []liveBlob `json:"mediaChunks"`
}

type liveBlob struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type liveContent struct {
	Parts []livePart `json:"parts"`
}

type livePart struct {
	Text       string    `json:"text,omitempty"`
	InlineData *liveBlob `json:"inlineData,omitempty"`
}

type serverMessage struct {
	SetupComplete *struct{}      `json:"setupComplete"`
	ServerContent *serverContent `json:"serverContent"`
}

type serverContent struct {
	ModelTurn           *liveContent       `json:"modelTurn"`
	TurnComplete        bool               `json:"turnComplete"`
	Interrupted         bool               `json:"interrupted"`
	InputTranscription  *liveTranscription `json:"inputTranscription"`
	OutputTranscription *liveTranscription `json:"outputTranscription"`
}

type liveTranscription struct {
	Text string `json:"text"`
}
