// Package pose turns the raw output tensor of a YOLO pose model into
// per-person detections, removes duplicate detections of the same person
// and computes shoulder/elbow angles for drawing.
//
// Nothing in this package keeps state between calls. Each frame is decoded,
// suppressed and annotated on its own.
package pose
