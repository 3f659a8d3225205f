package publisher

import (
	"errors"
	"net/http"
	"strings"

	"github.com/deusflow/coinrelay/internal/twitter"
)

// Class is the category of a failed post attempt.
type Class int

const (
	ClassUnknown Class = iota
	ClassDuplicate
	ClassQuota
	ClassForbidden
)

func (c Class) String() string {
	switch c {
	case ClassDuplicate:
		return "duplicate"
	case ClassQuota:
		return "quota"
	case ClassForbidden:
		return "forbidden"
	default:
		return "unknown"
	}
}

// Shape is the form an error payload arrived in.
type Shape int

const (
	ShapeAny Shape = iota
	// v2 problem document: title, detail
	ShapeProblem
	// errors array: code, message
	ShapeErrorList
	// response body that is not JSON
	ShapeRawBody
	// error without a response, only its message
	ShapeText
)

// view is one inspectable piece of an error.
type view struct {
	shape  Shape
	status   int
	code     int
	text     string // lower case
	dailyCap bool
}

type rule struct {
	name  string
	shape Shape
	class Class
	match func(v view) bool
}

// rules are evaluated in order; the first match wins. The order encodes the
// priority duplicate > quota > forbidden > unknown.
var rules = []rule{
	{"error code 187", ShapeErrorList, ClassDuplicate, code(187)},
	{"problem mentions duplicate", ShapeProblem, ClassDuplicate, contains("duplicate")},
	{"error message mentions duplicate", ShapeErrorList, ClassDuplicate, contains("duplicate")},
	{"raw body mentions duplicate content", ShapeRawBody, ClassDuplicate, contains("duplicate content")},
	{"error text mentions duplicate", ShapeText, ClassDuplicate, contains("duplicate")},

	{"error code 185", ShapeErrorList, ClassQuota, code(185)},
	{"24-hour user limit reached", ShapeAny, ClassQuota, func(v view) bool { return v.dailyCap }},
	{"problem mentions daily limit", ShapeProblem, ClassQuota, contains("daily status update limit", "tweet limit", "usage cap")},
	{"error message mentions daily limit", ShapeErrorList, ClassQuota, contains("daily status update limit", "tweet limit")},
	{"raw body mentions daily limit", ShapeRawBody, ClassQuota, contains("daily status update limit", "tweet limit")},

	{"status 403", ShapeAny, ClassForbidden, func(v view) bool { return v.status == http.StatusForbidden }},
}

func code(want int) func(view) bool {
	return func(v view) bool { return v.code == want }
}

func contains(subs ...string) func(view) bool {
	return func(v view) bool {
		for _, s := range subs {
			if strings.Contains(v.text, s) {
				return true
			}
		}
		return false
	}
}

// Classify maps a CreatePost error to its class. A nil error is unknown.
func Classify(err error) Class {
	class, _ := classify(err)
	return class
}

func classify(err error) (Class, string) {
	if err == nil {
		return ClassUnknown, ""
	}
	views := viewsOf(err)
	for _, r := range rules {
		for _, v := range views {
			if (r.shape == ShapeAny || r.shape == v.shape) && r.match(v) {
				return r.class, r.name
			}
		}
	}
	return ClassUnknown, ""
}

func viewsOf(err error) []view {
	var apiErr *twitter.APIError
	if !errors.As(err, &apiErr) {
		return []view{{shape: ShapeText, text: strings.ToLower(err.Error())}}
	}

	status, dailyCap := apiErr.StatusCode, apiErr.DailyCapReached
	var views []view
	if apiErr.Title != "" || apiErr.Detail != "" {
		views = append(views, view{shape: ShapeProblem, status: status, dailyCap: dailyCap, text: strings.ToLower(apiErr.Title + " " + apiErr.Detail)})
	}
	for _, e := range apiErr.Errors {
		views = append(views, view{
			shape:    ShapeErrorList,
			status:   status,
			code:     e.Code,
			text:     strings.ToLower(strings.Join([]string{e.Message, e.Title, e.Detail}, " ")),
			dailyCap: dailyCap,
		})
	}
	if !apiErr.JSON {
		views = append(views, view{shape: ShapeRawBody, status: status, dailyCap: dailyCap, text: strings.ToLower(apiErr.Body)})
	}
	if len(views) == 0 {
		views = append(views, view{shape: ShapeText, status: status, dailyCap: dailyCap, text: strings.ToLower(apiErr.Error())})
	}
	return views
}
