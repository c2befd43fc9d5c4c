package api

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"
)

// maxPage keeps (page-1)*limit inside int for every accepted limit.
const maxPage = math.MaxInt / maxPageSize

// pageParams reads page and limit, capping limit at maxPageSize.
func pageParams(r *http.Request, defLimit int) (int, int, error) {
	q := r.URL.Query()
	page := 1
	if raw := q.Get("page"); raw != "" {
		val, err := strconv.Atoi(raw)
		if err != nil || val < 1 || val > maxPage {
			return 0, 0, errors.New("invalid page")
		}
		page = val
	}
	limit := defLimit
	if raw := q.Get("limit"); raw != "" {
		val, err := strconv.Atoi(raw)
		if err != nil || val < 1 {
			return 0, 0, errors.New("invalid limit")
		}
		limit = min(val, maxPageSize)
	}
	return page, limit, nil
}

func intParam(raw, name string) (int, error) {
	val, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || val < 1 {
		return 0, errors.New("invalid " + name)
	}
	return val, nil
}
