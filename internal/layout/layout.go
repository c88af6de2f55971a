// Package layout derives graph-view positions for annotations that do not
// have one yet. Positions the user has already set are never moved.
package layout

import (
	"argmap/api/internal/doc"
)

// Grid geometry. Columns are keyed by annotation type; rows stack downward.
const (
	originX      = 80.0
	originY      = 80.0
	columnWidth  = 280.0
	rowHeight    = 140.0
	maxRounds    = 50
	minBoxWidth  = 160.0
	maxBoxWidth  = 360.0
	charWidth    = 7.0
	lineHeight   = 22.0
	baseHeight   = 56.0
	wrapColumns  = 34
	collisionPad = 16.0
)

// columnOrder fixes the left-to-right type columns of the derived grid.
var columnOrder = []string{
	doc.TypeClaim,
	doc.TypeCounterargument,
	doc.TypeQuestion,
	doc.TypeEvidence,
	doc.TypeAssumption,
	doc.TypeImplication,
	doc.TypeCause,
}

// Derive returns a copy of the annotations with every missing position
// filled in. Placement runs in three passes: a type-keyed column grid,
// row alignment toward related nodes that already have positions, then
// bounded collision repulsion so no two derived boxes overlap.
func Derive(annotations []doc.Annotation, relationships []doc.Relationship) []doc.Annotation {
	result := make([]doc.Annotation, len(annotations))
	derived := make([]bool, len(annotations))
	for i, annotation := range annotations {
		result[i] = annotation
		if annotation.Position != nil {
			position := *annotation.Position
			result[i].Position = &position
		}
	}

	placeOnGrid(result, derived)
	alignWithNeighbors(result, derived, relationships)
	resolveCollisions(result, derived)
	return result
}

// placeOnGrid assigns each unpositioned annotation a slot in its type's
// column, stacking downward in document order.
func placeOnGrid(annotations []doc.Annotation, derived []bool) {
	rows := make(map[string]int, len(columnOrder))
	for i := range annotations {
		if annotations[i].Position != nil {
			continue
		}
		annotationType := doc.NormalizeType(annotations[i].Type)
		column := columnIndex(annotationType)
		row := rows[annotationType]
		rows[annotationType] = row + 1
		annotations[i].Position = &doc.Position{
			X: originX + float64(column)*columnWidth,
			Y: originY + float64(row)*rowHeight,
		}
		derived[i] = true
	}
}

// alignWithNeighbors pulls each freshly derived node toward the average row
// of its related nodes, so connected nodes read left to right.
func alignWithNeighbors(annotations []doc.Annotation, derived []bool, relationships []doc.Relationship) {
	byID := make(map[string]int, len(annotations))
	for i, annotation := range annotations {
		byID[annotation.ID] = i
	}

	for i := range annotations {
		if !derived[i] {
			continue
		}
		sum, count := 0.0, 0
		for _, rel := range relationships {
			var otherID string
			switch annotations[i].ID {
			case rel.SourceID:
				otherID = rel.TargetID
			case rel.TargetID:
				otherID = rel.SourceID
			default:
				continue
			}
			if j, ok := byID[otherID]; ok && j != i && annotations[j].Position != nil && !derived[j] {
				sum += annotations[j].Position.Y
				count++
			}
		}
		if count > 0 {
			annotations[i].Position.Y = sum / float64(count)
		}
	}
}

// resolveCollisions nudges derived nodes apart until no estimated bounding
// boxes overlap, up to a fixed number of rounds. Nodes whose positions the
// user set are treated as immovable obstacles.
func resolveCollisions(annotations []doc.Annotation, derived []bool) {
	for round := 0; round < maxRounds; round++ {
		moved := false
		for i := range annotations {
			for j := i + 1; j < len(annotations); j++ {
				if !derived[i] && !derived[j] {
					continue
				}
				dx, dy, overlap := boxOverlap(annotations[i], annotations[j])
				if !overlap {
					continue
				}
				moved = true
				switch {
				case derived[i] && derived[j]:
					shift(annotations[i].Position, -dx/2, -dy/2)
					shift(annotations[j].Position, dx/2, dy/2)
				case derived[i]:
					shift(annotations[i].Position, -dx, -dy)
				default:
					shift(annotations[j].Position, dx, dy)
				}
			}
		}
		if !moved {
			return
		}
	}
}

// boxOverlap reports whether two annotation boxes overlap, and the smallest
// single-axis push that separates them, expressed as a move for the second
// box.
func boxOverlap(a, b doc.Annotation) (dx, dy float64, overlap bool) {
	if a.Position == nil || b.Position == nil {
		return 0, 0, false
	}
	aw, ah := boxSize(a.Text)
	bw, bh := boxSize(b.Text)

	overlapX := (aw+bw)/2 + collisionPad - abs(b.Position.X-a.Position.X)
	overlapY := (ah+bh)/2 + collisionPad - abs(b.Position.Y-a.Position.Y)
	if overlapX <= 0 || overlapY <= 0 {
		return 0, 0, false
	}
	if overlapX < overlapY {
		if b.Position.X < a.Position.X {
			overlapX = -overlapX
		}
		return overlapX, 0, true
	}
	if b.Position.Y < a.Position.Y {
		overlapY = -overlapY
	}
	return 0, overlapY, true
}

// boxSize estimates a node's rendered size from its text length. The graph
// view wraps long text, so height grows once the width cap is reached.
func boxSize(text string) (width, height float64) {
	runes := len([]rune(text))
	width = minBoxWidth + float64(runes)*charWidth
	if width > maxBoxWidth {
		width = maxBoxWidth
	}
	lines := runes/wrapColumns + 1
	height = baseHeight + float64(lines-1)*lineHeight
	return width, height
}

func columnIndex(annotationType string) int {
	for i, candidate := range columnOrder {
		if candidate == annotationType {
			return i
		}
	}
	return 0
}

func shift(position *doc.Position, dx, dy float64) {
	position.X += dx
	position.Y += dy
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
