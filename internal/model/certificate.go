package model

import "time"

// Certificate 课程结业证书，每个用户每门课程最多一张
// swagger:model Certificate
type Certificate struct {
	BaseModel
	UserID            uint      `gorm:"not null;index:idx_certificate_user_course,unique" json:"userId"`
	CourseID          uint      `gorm:"not null;index:idx_certificate_user_course,unique" json:"courseId"`
	CertificateNumber string    `gorm:"size:36;unique;not null" json:"certificateNumber"`
	DocumentURL       string    `gorm:"size:255" json:"documentUrl"`
	IssuedAt          time.Time `json:"issuedAt"`
}

func (Certificate) TableName() string {
	return "certificates"
}
