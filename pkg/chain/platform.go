package chain

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/rahuls2764/Skill/pkg/models"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Platform binds the course marketplace contract.
type Platform struct {
	boundContract
}

// Course reads courses(id). A course that was never created comes back
// with id 0 and a zero instructor.
func (p *Platform) Course(ctx context.Context, id uint64) (models.CourseRecord, error) {
	out, err := p.call(ctx, "courses", new(big.Int).SetUint64(id))
	if err != nil {
		return models.CourseRecord{}, err
	}
	return decodeCourse(out)
}

func decodeCourse(out []interface{}) (models.CourseRecord, error) {
	var (
		c   models.CourseRecord
		err error
	)
	id, err := outBigInt(out, 0)
	if err != nil {
		return c, fmt.Errorf("courses: %w", err)
	}
	c.ID = id.Uint64()
	if c.Instructor, err = outAddress(out, 1); err != nil {
		return c, fmt.Errorf("courses: %w", err)
	}
	if c.Title, err = outString(out, 2); err != nil {
		return c, fmt.Errorf("courses: %w", err)
	}
	if c.Description, err = outString(out, 3); err != nil {
		return c, fmt.Errorf("courses: %w", err)
	}
	if c.Price, err = outBigInt(out, 4); err != nil {
		return c, fmt.Errorf("courses: %w", err)
	}
	if c.ContentCID, err = outString(out, 5); err != nil {
		return c, fmt.Errorf("courses: %w", err)
	}
	if c.Category, err = outString(out, 6); err != nil {
		return c, fmt.Errorf("courses: %w", err)
	}
	count, err := outBigInt(out, 7)
	if err != nil {
		return c, fmt.Errorf("courses: %w", err)
	}
	c.EnrollmentCount = count.Uint64()
	if c.IsActive, err = outBool(out, 8); err != nil {
		return c, fmt.Errorf("courses: %w", err)
	}
	created, err := outBigInt(out, 9)
	if err != nil {
		return c, fmt.Errorf("courses: %w", err)
	}
	if created.Sign() > 0 {
		c.CreatedAt = time.Unix(created.Int64(), 0).UTC()
	}
	return c, nil
}

// User reads users(addr) and the enrolled course list.
func (p *Platform) User(ctx context.Context, addr common.Address) (models.UserRecord, error) {
	out, err := p.call(ctx, "users", addr)
	if err != nil {
		return models.UserRecord{}, err
	}
	u := models.UserRecord{Address: addr}
	score, err := outBigInt(out, 1)
	if err != nil {
		return u, fmt.Errorf("users: %w", err)
	}
	u.TestScore = score.Uint64()
	if u.TokensEarned, err = outBigInt(out, 2); err != nil {
		return u, fmt.Errorf("users: %w", err)
	}
	completed, err := outBigInt(out, 3)
	if err != nil {
		return u, fmt.Errorf("users: %w", err)
	}
	u.CoursesCompleted = completed.Uint64()
	if u.HasCompletedTest, err = outBool(out, 4); err != nil {
		return u, fmt.Errorf("users: %w", err)
	}
	if u.EnrolledCourseIDs, err = p.EnrolledCourses(ctx, addr); err != nil {
		return u, err
	}
	return u, nil
}

func (p *Platform) EnrolledCourses(ctx context.Context, addr common.Address) ([]uint64, error) {
	out, err := p.call(ctx, "getUserEnrolledCourses", addr)
	if err != nil {
		return nil, err
	}
	return outUint64s(out, 0)
}

func (p *Platform) InstructorCourses(ctx context.Context, addr common.Address) ([]uint64, error) {
	out, err := p.call(ctx, "getInstructorCourses", addr)
	if err != nil {
		return nil, err
	}
	return outUint64s(out, 0)
}

func (p *Platform) InstructorEarnings(ctx context.Context, addr common.Address) (*big.Int, error) {
	out, err := p.call(ctx, "getInstructorEarnings", addr)
	if err != nil {
		return nil, err
	}
	return outBigInt(out, 0)
}

func (p *Platform) HasAccess(ctx context.Context, addr common.Address, courseID uint64) (bool, error) {
	out, err := p.call(ctx, "hasAccessToCourse", addr, new(big.Int).SetUint64(courseID))
	if err != nil {
		return false, err
	}
	return outBool(out, 0)
}

func (p *Platform) NextCourseID(ctx context.Context) (uint64, error) {
	out, err := p.call(ctx, "nextCourseId")
	if err != nil {
		return 0, err
	}
	v, err := outBigInt(out, 0)
	if err != nil {
		return 0, err
	}
	return v.Uint64(), nil
}

func (p *Platform) Owner(ctx context.Context) (common.Address, error) {
	out, err := p.call(ctx, "owner")
	if err != nil {
		return common.Address{}, err
	}
	return outAddress(out, 0)
}

func (p *Platform) CompleteTest(ctx context.Context, score uint64) (*types.Transaction, error) {
	return p.transact(ctx, nil, "completeTest", new(big.Int).SetUint64(score))
}

func (p *Platform) RetakeTest(ctx context.Context, score uint64, fee *big.Int) (*types.Transaction, error) {
	return p.transact(ctx, nil, "retakeTest", new(big.Int).SetUint64(score), fee)
}

func (p *Platform) CreateCourse(ctx context.Context, title, description string, price *big.Int, contentCID, category string) (*types.Transaction, error) {
	return p.transact(ctx, nil, "createCourse", title, description, price, contentCID, category)
}

func (p *Platform) EnrollInCourse(ctx context.Context, courseID uint64) (*types.Transaction, error) {
	return p.transact(ctx, nil, "enrollInCourse", new(big.Int).SetUint64(courseID))
}

func (p *Platform) CompleteCourse(ctx context.Context, courseID uint64, resultCID string) (*types.Transaction, error) {
	return p.transact(ctx, nil, "completeCourse", new(big.Int).SetUint64(courseID), resultCID)
}

func (p *Platform) PurchaseTokens(ctx context.Context, wei *big.Int) (*types.Transaction, error) {
	return p.transact(ctx, wei, "purchaseTokens")
}

func (p *Platform) ConvertTokensToETH(ctx context.Context, amount *big.Int) (*types.Transaction, error) {
	return p.transact(ctx, nil, "convertTokensToETH", amount)
}

func (p *Platform) WithdrawInstructorEarnings(ctx context.Context) (*types.Transaction, error) {
	return p.transact(ctx, nil, "withdrawInstructorEarnings")
}
