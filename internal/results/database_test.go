package results

import (
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("BoltDB", func() {
	var db *BoltDB

	BeforeEach(func() {
		var err error
		db, err = NewBoltDB(filepath.Join(GinkgoT().TempDir(), "test.db"))
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		if db != nil {
			db.Close()
		}
	})

	Describe("SaveRecord", func() {
		var (
			record *Record
			err    error
		)

		BeforeEach(func() {
			record = &Record{
				ID:        "test-id",
				Text:      "https://example.com",
				Source:    "qrcode",
				LatencyMS: 42,
				ScannedAt: time.Date(2024, 1, 15, 9, 30, 0, 0, time.UTC),
			}
		})

		JustBeforeEach(func() {
			err = db.SaveRecord(record)
		})

		It("should not return an error", func() {
			Expect(err).NotTo(HaveOccurred())
		})

		It("should round trip the record", func() {
			saved, getErr := db.GetRecord("test-id")
			Expect(getErr).NotTo(HaveOccurred())
			Expect(saved.Text).To(Equal("https://example.com"))
			Expect(saved.Source).To(Equal("qrcode"))
			Expect(saved.LatencyMS).To(Equal(int64(42)))
			Expect(saved.ScannedAt.Equal(record.ScannedAt)).To(BeTrue())
		})
	})

	Describe("GetRecord", func() {
		When("the record does not exist", func() {
			It("returns ErrNotFound", func() {
				_, err := db.GetRecord("nonexistent")
				Expect(err).To(MatchError(ErrNotFound))
				Expect(err.Error()).To(ContainSubstring("nonexistent"))
			})
		})
	})

	Describe("ListRecords", func() {
		When("records exist", func() {
			BeforeEach(func() {
				Expect(db.SaveRecord(&Record{ID: "id1", Text: "A"})).To(Succeed())
				Expect(db.SaveRecord(&Record{ID: "id2", Text: "B"})).To(Succeed())
			})

			It("should return all records", func() {
				records, err := db.ListRecords()
				Expect(err).NotTo(HaveOccurred())
				Expect(records).To(HaveLen(2))
			})
		})

		When("no records exist", func() {
			It("should return an empty list", func() {
				records, err := db.ListRecords()
				Expect(err).NotTo(HaveOccurred())
				Expect(records).To(BeEmpty())
			})
		})
	})

	Describe("DeleteRecord", func() {
		BeforeEach(func() {
			Expect(db.SaveRecord(&Record{ID: "test-id", Text: "A"})).To(Succeed())
		})

		It("should remove the record", func() {
			Expect(db.DeleteRecord("test-id")).To(Succeed())
			_, err := db.GetRecord("test-id")
			Expect(err).To(MatchError(ErrNotFound))
		})

		It("should not fail for a missing record", func() {
			Expect(db.DeleteRecord("nonexistent")).To(Succeed())
		})
	})

	Describe("timeouts", func() {
		It("keeps timeouts apart from records", func() {
			Expect(db.SaveTimeout(&Timeout{SessionID: "s1", Original: "s1_original.png"})).To(Succeed())

			timeouts, err := db.ListTimeouts()
			Expect(err).NotTo(HaveOccurred())
			Expect(timeouts).To(HaveLen(1))
			Expect(timeouts[0].Original).To(Equal("s1_original.png"))

			records, err := db.ListRecords()
			Expect(err).NotTo(HaveOccurred())
			Expect(records).To(BeEmpty())
		})
	})

	It("reopens an existing database", func() {
		path := filepath.Join(GinkgoT().TempDir(), "reopen.db")
		first, err := NewBoltDB(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(first.SaveRecord(&Record{ID: "kept", Text: "A"})).To(Succeed())
		Expect(first.Close()).To(Succeed())

		second, err := NewBoltDB(path)
		Expect(err).NotTo(HaveOccurred())
		defer second.Close()
		record, err := second.GetRecord("kept")
		Expect(err).NotTo(HaveOccurred())
		Expect(record.Text).To(Equal("A"))
	})
})
