package service

import (
	"bytes"
	"coder_edu_progress/internal/model"
	"coder_edu_progress/internal/repository"
	"coder_edu_progress/internal/util"
	"coder_edu_progress/pkg/logger"
	"coder_edu_progress/pkg/monitoring"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// CertificateService 课程全部课时完成后颁发证书，同一用户同一课程只颁发一次
type CertificateService struct {
	CertRepo     *repository.CertificateRepository
	ProgressRepo *repository.ProgressRepository
	LessonRepo   *repository.LessonRepository
	Storage      *StorageService
}

func NewCertificateService(
	certRepo *repository.CertificateRepository,
	progressRepo *repository.ProgressRepository,
	lessonRepo *repository.LessonRepository,
	storage *StorageService,
) *CertificateService {
	return &CertificateService{
		CertRepo:     certRepo,
		ProgressRepo: progressRepo,
		LessonRepo:   lessonRepo,
		Storage:      storage,
	}
}

// Get 未颁发时返回 nil, nil
func (s *CertificateService) Get(ctx context.Context, userID, courseID uint) (*model.Certificate, error) {
	return s.CertRepo.FindByUserCourse(ctx, userID, courseID)
}

// Issue 已颁发时直接返回已有证书；课程未全部完成时返回 util.ErrCourseIncomplete
func (s *CertificateService) Issue(ctx context.Context, userID, courseID uint) (*model.Certificate, error) {
	existing, err := s.CertRepo.FindByUserCourse(ctx, userID, courseID)
	if err != nil || existing != nil {
		return existing, err
	}

	summary, err := s.summarize(ctx, userID, courseID)
	if err != nil {
		return nil, err
	}
	if summary.TotalLessons == 0 || summary.CompletedLessons < summary.TotalLessons {
		return nil, fmt.Errorf("%w: %d of %d lessons completed", util.ErrCourseIncomplete, summary.CompletedLessons, summary.TotalLessons)
	}

	cert := &model.Certificate{
		UserID:            userID,
		CourseID:          courseID,
		CertificateNumber: uuid.NewString(),
		IssuedAt:          time.Now().UTC(),
	}

	filename := fmt.Sprintf("%d/%s.txt", userID, cert.CertificateNumber)
	doc := renderCertificate(cert, summary)
	url, err := s.Storage.Upload(ctx, filename, bytes.NewReader(doc), int64(len(doc)), "text/plain; charset=utf-8")
	if err != nil {
		// 文档可以稍后补发，不阻塞颁发
		logger.Log.Warn("Certificate document upload failed", zap.String("number", cert.CertificateNumber), zap.Error(err))
	} else {
		cert.DocumentURL = url
	}

	if err := s.CertRepo.Create(ctx, cert); err != nil {
		if cert.DocumentURL != "" {
			s.Storage.Delete(ctx, filename)
		}
		// 并发颁发时另一请求已写入
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return s.CertRepo.FindByUserCourse(ctx, userID, courseID)
		}
		return nil, err
	}

	monitoring.CertificatesIssued.Inc()
	logger.Log.Info("Certificate issued",
		zap.Uint("userId", userID),
		zap.Uint("courseId", courseID),
		zap.String("number", cert.CertificateNumber),
	)
	return cert, nil
}

func (s *CertificateService) summarize(ctx context.Context, userID, courseID uint) (model.CourseProgressSummary, error) {
	lessons, err := s.LessonRepo.ListIDsByCourse(ctx, courseID)
	if err != nil {
		return model.CourseProgressSummary{}, err
	}
	records, err := s.ProgressRepo.ListByUserCourse(ctx, userID, courseID)
	if err != nil {
		return model.CourseProgressSummary{}, err
	}
	return model.Summarize(courseID, records, lessons), nil
}

func renderCertificate(cert *model.Certificate, summary model.CourseProgressSummary) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "Certificate of Completion\n\n")
	fmt.Fprintf(&buf, "Certificate No.: %s\n", cert.CertificateNumber)
	fmt.Fprintf(&buf, "User: %d\n", cert.UserID)
	fmt.Fprintf(&buf, "Course: %d\n", cert.CourseID)
	fmt.Fprintf(&buf, "Lessons completed: %d/%d\n", summary.CompletedLessons, summary.TotalLessons)
	fmt.Fprintf(&buf, "Time spent: %s\n", time.Duration(summary.TimeSpentSeconds)*time.Second)
	fmt.Fprintf(&buf, "Issued at: %s\n", cert.IssuedAt.Format(time.RFC3339))
	return buf.Bytes()
}
