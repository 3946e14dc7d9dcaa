package service

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/user/flicklog/internal/model"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once

	usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)
)

// RatingInput 评分表单，补完待评分时直接使用
type RatingInput struct {
	Rating         float64 `json:"rating" validate:"min=0.5,max=5,halfstep"`
	WatchedOn      string  `json:"watched_on" validate:"required,datetime=2006-01-02"`
	QuickTake      string  `json:"quick_take" validate:"max=280"`
	DeeperThoughts string  `json:"deeper_thoughts" validate:"max=10000"`
}

// WatchedDate 解析后的观看日期（UTC 零点），需先通过校验
func (in RatingInput) WatchedDate() time.Time {
	t, _ := time.Parse("2006-01-02", in.WatchedOn)
	return model.DateOnly(t)
}

// comments 非空的短评/长评
func (in RatingInput) comments() []model.Comment {
	var out []model.Comment
	if s := strings.TrimSpace(in.QuickTake); s != "" {
		out = append(out, model.Comment{Type: model.CommentQuickTake, Content: s})
	}
	if s := strings.TrimSpace(in.DeeperThoughts); s != "" {
		out = append(out, model.Comment{Type: model.CommentDeeperThoughts, Content: s})
	}
	return out
}

// LogEntryInput 记录一部影视
type LogEntryInput struct {
	MediaID   string `json:"media_id" validate:"required,max=32"`
	MediaType string `json:"media_type" validate:"required,oneof=movie tv"`
	RatingInput
}

// ProfileInput 资料修改
type ProfileInput struct {
	Username    string `json:"username" validate:"required,min=3,max=20,username"`
	DisplayName string `json:"display_name" validate:"omitempty,min=2,max=50"`
	AvatarURL   string `json:"avatar_url" validate:"omitempty,url"`
}

// OnboardingPick 新手引导中的一个选择
type OnboardingPick struct {
	MediaID   string  `json:"media_id" validate:"required,max=32"`
	MediaType string  `json:"media_type" validate:"required,oneof=movie tv"`
	Rating    float64 `json:"rating" validate:"min=0.5,max=5,halfstep"`
}

// OnboardingInput 喜欢 / 一般 / 不喜欢 各一部
type OnboardingInput struct {
	Loved    OnboardingPick `json:"loved" validate:"required"`
	Okay     OnboardingPick `json:"okay" validate:"required"`
	Disliked OnboardingPick `json:"disliked" validate:"required"`
}

type createSpaceInput struct {
	Name string `json:"name" validate:"min=3,max=50"`
}

type inviteInput struct {
	Username string `json:"username" validate:"required,min=3,max=20"`
}

type webhookInput struct {
	URL string `json:"webhook_url" validate:"omitempty,url,startswith=https://"`
}

// Validator 单例，字段名使用 json 标签
func Validator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
		// 评分只允许半星步进
		_ = validate.RegisterValidation("halfstep", func(fl validator.FieldLevel) bool {
			v := fl.Field().Float()
			return math.Mod(v*2, 1) == 0
		})
		_ = validate.RegisterValidation("username", func(fl validator.FieldLevel) bool {
			return usernamePattern.MatchString(fl.Field().String())
		})
	})
	return validate
}

// validateInput 校验失败返回带字段信息的 *Error
func validateInput(s interface{}) *Error {
	err := Validator().Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return errField("_", err.Error())
	}
	fields := make(map[string][]string)
	for _, fe := range verrs {
		key := fieldPath(fe)
		fields[key] = append(fields[key], fieldMessage(fe))
	}
	return errValidation(fields)
}

// fieldPath 去掉顶层结构名；嵌入结构体不出现在路径中
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		ns = ns[i+1:]
	}
	ns = strings.ReplaceAll(ns, "RatingInput.", "")
	return ns
}

func fieldMessage(fe validator.FieldError) string {
	param := fe.Param()
	isString := fe.Kind() == reflect.String
	switch fe.Tag() {
	case "required":
		return "不能为空"
	case "oneof":
		return fmt.Sprintf("只能是 %s 之一", strings.ReplaceAll(param, " ", ", "))
	case "datetime":
		return "日期格式应为 YYYY-MM-DD"
	case "halfstep":
		return "评分只能以 0.5 为步进"
	case "username":
		return "只能包含字母、数字和下划线"
	case "url":
		return "不是有效的链接"
	case "startswith":
		return fmt.Sprintf("必须以 %s 开头", param)
	case "min":
		if isString {
			return fmt.Sprintf("至少 %s 个字符", param)
		}
		return fmt.Sprintf("不能小于 %s", param)
	case "max":
		if isString {
			return fmt.Sprintf("最多 %s 个字符", param)
		}
		return fmt.Sprintf("不能大于 %s", param)
	default:
		return fmt.Sprintf("未通过 %s 校验", fe.Tag())
	}
}
