package domain

// Location 打卡地点领域模型（对应 locations 表）
// 生命周期由管理端维护，这里只读
type Location struct {
	LocationID  string  `db:"location_id"` // UUID, PRIMARY KEY
	Name        string  `db:"name"`        // VARCHAR(200), NOT NULL
	Description string  `db:"description"` // TEXT, nullable
	Area        GeoArea `db:"-"`           // shape + center/radius 或 northwest/southeast
}
