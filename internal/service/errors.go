package service

import (
	"github.com/dukerupert/tuition/internal/domain"
)

// Request validation errors - use domain.EINVALID
var (
	ErrParentEmailMissing = domain.Errorf(domain.EINVALID, "", "Parent has no billing email")
	ErrAmountNotPositive  = domain.Errorf(domain.EINVALID, "", "Amount must be a positive number of minor units")
)

// Mapping errors
var (
	ErrCustomerNotMapped = domain.Errorf(domain.ENOTFOUND, "", "Student has no customer in this billing account")
	ErrCustomerNotFound  = domain.Errorf(domain.ENOTFOUND, "", "Customer does not exist in this billing account")
)
