/*
Copyright 2025 Jordi Gil.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package idempotency

import (
	"context"
	"errors"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Ledger.Claim", func() {
	var (
		mock   sqlmock.Sqlmock
		ledger *Ledger
	)

	BeforeEach(func() {
		db, m, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
		Expect(err).NotTo(HaveOccurred())
		mock = m
		ledger = newLedger(db)
	})

	AfterEach(func() {
		ledger.Close()
	})

	It("reports true on a first claim", func() {
		mock.ExpectExec("INSERT INTO execution_ledger").
			WithArgs("req-1", "owner-1", "card-1", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))

		claimed, err := ledger.Claim(context.Background(), "req-1", "owner-1", "card-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(claimed).To(BeTrue())
		Expect(mock.ExpectationsWereMet()).To(Succeed())
	})

	It("reports false when the requestId is already claimed", func() {
		mock.ExpectExec("INSERT INTO execution_ledger").
			WithArgs("req-1", "owner-1", "card-1", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 0))

		claimed, err := ledger.Claim(context.Background(), "req-1", "owner-1", "card-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(claimed).To(BeFalse())
		Expect(mock.ExpectationsWereMet()).To(Succeed())
	})

	It("wraps a database error as ErrorTypeDatabase", func() {
		mock.ExpectExec("INSERT INTO execution_ledger").
			WithArgs("req-1", "owner-1", "card-1", sqlmock.AnyArg()).
			WillReturnError(errors.New("connection reset"))

		_, err := ledger.Claim(context.Background(), "req-1", "owner-1", "card-1")
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("Ledger.IsClaimed", func() {
	var (
		mock   sqlmock.Sqlmock
		ledger *Ledger
	)

	BeforeEach(func() {
		db, m, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
		Expect(err).NotTo(HaveOccurred())
		mock = m
		ledger = newLedger(db)
	})

	AfterEach(func() {
		ledger.Close()
	})

	It("reports true when a row exists", func() {
		rows := sqlmock.NewRows([]string{"exists"}).AddRow(true)
		mock.ExpectQuery("SELECT EXISTS").WithArgs("req-1").WillReturnRows(rows)

		claimed, err := ledger.IsClaimed(context.Background(), "req-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(claimed).To(BeTrue())
		Expect(mock.ExpectationsWereMet()).To(Succeed())
	})

	It("reports false when no row exists", func() {
		rows := sqlmock.NewRows([]string{"exists"}).AddRow(false)
		mock.ExpectQuery("SELECT EXISTS").WithArgs("req-1").WillReturnRows(rows)

		claimed, err := ledger.IsClaimed(context.Background(), "req-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(claimed).To(BeFalse())
	})
})
