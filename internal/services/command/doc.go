// Package command drives external programs that act as stage collaborators
// (image generation, narration synthesis, video assembly, publishing).
//
// Each invocation receives a JSON Manifest on stdin and must write its
// output to Manifest.Output. A program may print a JSON usage object as the
// last line of stdout:
//
//	{"input_units": 1200, "output_units": 4, "cost": 0.16, "model": "image-v2"}
//
// Arguments may contain the placeholders {output} and {unit_id}.
package command
