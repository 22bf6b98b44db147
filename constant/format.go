package constant

import (
	"mime"
	"strings"
)

type AudioFormat string

const (
	FormatMP3  AudioFormat = "mp3"
	FormatWAV  AudioFormat = "wav"
	FormatM4A  AudioFormat = "m4a"
	FormatMP4  AudioFormat = "mp4"
	FormatWebM AudioFormat = "webm"
	FormatOGG  AudioFormat = "ogg"
	FormatFLAC AudioFormat = "flac"
)

func (f AudioFormat) String() string {
	return string(f)
}

// Extension returns the file extension, dot included, used for object keys.
func (f AudioFormat) Extension() string {
	return "." + string(f)
}

// Media types the speech-to-text engine accepts. Anything else is rejected at intake.
var supportedMediaTypes = map[string]AudioFormat{
	"audio/mpeg":    FormatMP3,
	"audio/mp3":     FormatMP3,
	"audio/mpga":    FormatMP3,
	"audio/wav":     FormatWAV,
	"audio/wave":    FormatWAV,
	"audio/x-wav":   FormatWAV,
	"audio/vnd.wav": FormatWAV,
	"audio/mp4":     FormatM4A,
	"audio/m4a":     FormatM4A,
	"audio/x-m4a":   FormatM4A,
	"video/mp4":     FormatMP4,
	"audio/webm":    FormatWebM,
	"video/webm":    FormatWebM,
	"audio/ogg":     FormatOGG,
	"audio/oga":     FormatOGG,
	"audio/flac":    FormatFLAC,
	"audio/x-flac":  FormatFLAC,
}

// diarizationNativeFormats can be sent to the diarization engine without transcoding.
var diarizationNativeFormats = map[AudioFormat]bool{
	FormatWAV:  true,
	FormatFLAC: true,
	FormatMP3:  true,
	FormatOGG:  true,
}

// FormatForMediaType maps a declared media type (parameters allowed) to a supported format.
func FormatForMediaType(declared string) (AudioFormat, bool) {
	mediaType, _, err := mime.ParseMediaType(strings.TrimSpace(declared))
	if err != nil {
		return "", false
	}
	format, ok := supportedMediaTypes[strings.ToLower(mediaType)]
	return format, ok
}

// SupportedMediaTypes lists the allow-list, for error messages.
func SupportedMediaTypes() []string {
	types := make([]string, 0, len(supportedMediaTypes))
	for t := range supportedMediaTypes {
		types = append(types, t)
	}
	return types
}

func IsDiarizationNative(f AudioFormat) bool {
	return diarizationNativeFormats[f]
}
