package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"github.com/rahuls2764/Skill/pkg/chain"
	"github.com/rahuls2764/Skill/pkg/models"

	"github.com/ethereum/go-ethereum/common"
)

// Catalog holds the last fetched list of active courses for one account.
// Workflows mark enrollments in it locally and reset it after writes that
// change the course set.
type Catalog struct {
	mu      sync.Mutex
	account common.Address
	courses []models.CourseRecord
	loaded  bool
}

// Load returns the cached list for account, fetching it when missing.
func (c *Catalog) Load(ctx context.Context, platform chain.PlatformContract, account common.Address, force bool) ([]models.CourseRecord, error) {
	c.mu.Lock()
	if c.loaded && !force && c.account == account {
		out := append([]models.CourseRecord(nil), c.courses...)
		c.mu.Unlock()
		return out, nil
	}
	c.mu.Unlock()

	courses, err := fetchCourses(ctx, platform, account)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.account = account
	c.courses = courses
	c.loaded = true
	c.mu.Unlock()
	return append([]models.CourseRecord(nil), courses...), nil
}

// MarkEnrolled flags a course as enrolled without a re-fetch.
func (c *Catalog) MarkEnrolled(account common.Address, id uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.account != account {
		return
	}
	for i := range c.courses {
		if c.courses[i].ID == id {
			c.courses[i].Enrolled = true
			c.courses[i].EnrollmentCount++
		}
	}
}

func (c *Catalog) Reset() {
	c.mu.Lock()
	c.loaded = false
	c.courses = nil
	c.mu.Unlock()
}

// fetchCourses walks ids 1..nextCourseId-1 and keeps active courses.
func fetchCourses(ctx context.Context, platform chain.PlatformContract, account common.Address) ([]models.CourseRecord, error) {
	next, err := platform.NextCourseID(ctx)
	if err != nil {
		return nil, fmt.Errorf("next course id: %w", err)
	}
	enrolled := map[uint64]bool{}
	if account != (common.Address{}) {
		ids, err := platform.EnrolledCourses(ctx, account)
		if err != nil {
			return nil, fmt.Errorf("enrolled courses: %w", err)
		}
		for _, id := range ids {
			enrolled[id] = true
		}
	}

	var courses []models.CourseRecord
	for id := uint64(1); id < next; id++ {
		course, err := platform.Course(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("course %d: %w", id, err)
		}
		if !course.IsActive {
			continue
		}
		course.Enrolled = enrolled[course.ID]
		courses = append(courses, course)
	}
	return courses, nil
}
