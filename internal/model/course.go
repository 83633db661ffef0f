package model

// Course 课程
// swagger:model Course
type Course struct {
	BaseModel
	Title       string         `gorm:"size:200;not null" json:"title"`
	Description string         `gorm:"type:text" json:"description"`
	Published   bool           `gorm:"default:false" json:"published"`
	Modules     []CourseModule `gorm:"foreignKey:CourseID" json:"modules,omitempty"`
}

func (Course) TableName() string {
	return "courses"
}

// CourseModule 课程下的章节
type CourseModule struct {
	BaseModel
	CourseID uint     `gorm:"index;not null" json:"courseId"`
	Title    string   `gorm:"size:200;not null" json:"title"`
	Order    int      `gorm:"default:0" json:"order"`
	Lessons  []Lesson `gorm:"foreignKey:ModuleID" json:"lessons,omitempty"`
}

func (CourseModule) TableName() string {
	return "course_modules"
}

// Lesson 课时，CourseID 冗余存储以便按课程统计
type Lesson struct {
	BaseModel
	CourseID        uint   `gorm:"index;not null" json:"courseId"`
	ModuleID        uint   `gorm:"index;not null" json:"moduleId"`
	Title           string `gorm:"size:200;not null" json:"title"`
	Order           int    `gorm:"default:0" json:"order"`
	DurationSeconds int    `gorm:"default:0" json:"durationSeconds"`
}

func (Lesson) TableName() string {
	return "lessons"
}
