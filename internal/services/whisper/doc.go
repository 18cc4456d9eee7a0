// Package whisper runs the configured speech-to-text command and loads the
// transcript it produces.
//
// The command and its arguments come from the [transcription] config
// section. Arguments may contain the placeholders {input}, {output_dir},
// {model} and {language}. Whisper-style tools write <base>.txt into the
// output directory; when only <base>.json is present the segment texts are
// joined instead.
package whisper
