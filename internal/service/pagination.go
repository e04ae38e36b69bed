package service

import "github.com/noah-isme/fairgig-proctor/internal/dto"

func buildPagination(page, pageSize int, total int64) dto.PaginationMeta {
	meta := dto.PaginationMeta{Page: maxInt(page, 1), PageSize: pageSize, TotalItems: total, TotalPages: 1}
	if pageSize > 0 && total > 0 {
		meta.TotalPages = int((total + int64(pageSize) - 1) / int64(pageSize))
	}
	return meta
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
