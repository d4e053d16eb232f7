package image

import "sort"

type Rectangle struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// mergeDistance is how far apart two regions may be and still be reported as one.
const mergeDistance = 10

// Regions returns bounding boxes around 8-connected groups of pixels whose
// luminance difference exceeds 255*fuzz. Boxes that overlap or lie within a
// few pixels of each other are merged. The result is ordered top to bottom,
// then left to right.
func (c *Comparer) Regions(fuzz float64) []Rectangle {
	size := c.Size()
	width, height := size.X, size.Y
	if width == 0 || height == 0 {
		return nil
	}

	threshold := luminanceThreshold(fuzz)
	changed := make([]bool, width*height)
	forEachBand(c.diff.Bounds(), func(startY int, endY int) {
		for y := startY; y < endY; y++ {
			row := c.diff.Pix[c.diff.PixOffset(0, y):]
			for x := 0; x < width; x++ {
				offset := x * 4
				if int(luminance(row[offset], row[offset+1], row[offset+2])) > threshold {
					changed[y*width+x] = true
				}
			}
		}
	})

	visited := make([]bool, width*height)
	var rectangles []Rectangle
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			if changed[y*width+x] && !visited[y*width+x] {
				rectangles = append(rectangles, findBoundingBox(changed, visited, x, y, width, height))
			}
		}
	}

	merged := mergeRectangles(rectangles)
	sort.Slice(merged, func(i, j int) bool {
		if merged[i].Y != merged[j].Y {
			return merged[i].Y < merged[j].Y
		}
		return merged[i].X < merged[j].X
	})
	return merged
}

func findBoundingBox(changed []bool, visited []bool, startX int, startY int, width int, height int) Rectangle {
	minX, minY := startX, startY
	maxX, maxY := startX, startY

	type point struct {
		x int
		y int
	}
	queue := []point{{startX, startY}}
	visited[startY*width+startX] = true

	for len(queue) > 0 {
		p := queue[0]
		queue = queue[1:]

		minX = min(minX, p.x)
		maxX = max(maxX, p.x)
		minY = min(minY, p.y)
		maxY = max(maxY, p.y)

		for dy := -1; dy <= 1; dy++ {
			for dx := -1; dx <= 1; dx++ {
				if dx == 0 && dy == 0 {
					continue
				}

				nx := p.x + dx
				ny := p.y + dy
				if nx < 0 || nx >= width || ny < 0 || ny >= height {
					continue
				}
				i := ny*width + nx
				if changed[i] && !visited[i] {
					visited[i] = true
					queue = append(queue, point{nx, ny})
				}
			}
		}
	}

	return Rectangle{
		X:      minX,
		Y:      minY,
		Width:  maxX - minX + 1,
		Height: maxY - minY + 1,
	}
}

// mergeRectangles repeats merge passes until no two boxes are within
// mergeDistance, since a grown box can reach one emitted earlier in a pass.
func mergeRectangles(rects []Rectangle) []Rectangle {
	for len(rects) > 1 {
		merged := mergePass(rects)
		if len(merged) == len(rects) {
			return merged
		}
		rects = merged
	}
	return rects
}

func mergePass(rects []Rectangle) []Rectangle {
	merged := make([]Rectangle, 0, len(rects))
	used := make([]bool, len(rects))

	for i := 0; i < len(rects); i++ {
		if used[i] {
			continue
		}

		current := rects[i]
		mergedAny := true
		for mergedAny {
			mergedAny = false
			for j := i + 1; j < len(rects); j++ {
				if used[j] {
					continue
				}

				if current.overlaps(rects[j].expand(mergeDistance)) {
					current = current.union(rects[j])
					used[j] = true
					mergedAny = true
				}
			}
		}

		merged = append(merged, current)
	}

	return merged
}

func (r Rectangle) overlaps(o Rectangle) bool {
	return !(r.X+r.Width <= o.X || o.X+o.Width <= r.X ||
		r.Y+r.Height <= o.Y || o.Y+o.Height <= r.Y)
}

func (r Rectangle) expand(n int) Rectangle {
	return Rectangle{
		X:      r.X - n,
		Y:      r.Y - n,
		Width:  r.Width + 2*n,
		Height: r.Height + 2*n,
	}
}

func (r Rectangle) union(o Rectangle) Rectangle {
	minX := min(r.X, o.X)
	minY := min(r.Y, o.Y)
	maxX := max(r.X+r.Width, o.X+o.Width)
	maxY := max(r.Y+r.Height, o.Y+o.Height)

	return Rectangle{
		X:      minX,
		Y:      minY,
		Width:  maxX - minX,
		Height: maxY - minY,
	}
}
