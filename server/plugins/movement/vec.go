package movement

import "math"

type vec3 struct{ x, y, z float64 }

func (v vec3) sub(o vec3) vec3      { return vec3{v.x - o.x, v.y - o.y, v.z - o.z} }
func (v vec3) add(o vec3) vec3      { return vec3{v.x + o.x, v.y + o.y, v.z + o.z} }
func (v vec3) scale(k float64) vec3 { return vec3{v.x * k, v.y * k, v.z * k} }
func (v vec3) length() float64      { return math.Sqrt(v.x*v.x + v.y*v.y + v.z*v.z) }

// clamp 若 to 与 from 的距离超过 maxDist，返回线段 from->to 上距 from 恰为 maxDist 的点
func clamp(from, to vec3, maxDist float64) (vec3, bool) {
	d := to.sub(from)
	dist := d.length()
	if dist <= maxDist {
		return to, false
	}
	if maxDist <= 0 {
		return from, true
	}
	return from.add(d.scale(maxDist / dist)), true
}
