package domain

// Coordinate WGS84 坐标（采集后不可变）
type Coordinate struct {
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Accuracy  *float64 `json:"accuracy,omitempty"` // 测量精度半径（米），可选
}
