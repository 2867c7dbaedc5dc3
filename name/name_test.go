package name

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateAcceptsTypicalName(t *testing.T) {
	assert.NoError(t, Validate("demo_counter-1.log", 0))
}

func TestValidateRejectsEmpty(t *testing.T) {
	assert.Error(t, Validate("", 0))
}

func TestValidateRejectsDisallowedByte(t *testing.T) {
	assert.Error(t, Validate("has space", 0))
	assert.Error(t, Validate("has/slash", 0))
}

func TestValidateBoundaryAtMaxLen(t *testing.T) {
	atMax := strings.Repeat("a", MaxNameLength())
	assert.NoError(t, Validate(atMax, 0))

	overMax := strings.Repeat("a", MaxNameLength()+1)
	assert.Error(t, Validate(overMax, 0))
}

func TestValidatePathRejectsLeadingSlash(t *testing.T) {
	assert.Error(t, ValidatePath("/etc/passwd"))
}

func TestValidatePathRejectsMidPathParent(t *testing.T) {
	assert.Error(t, ValidatePath("a/../b"))
}

func TestValidatePathRejectsAllParentSegments(t *testing.T) {
	assert.Error(t, ValidatePath(".."))
	assert.Error(t, ValidatePath("../.."))
}

func TestValidatePathAcceptsOrdinaryRelative(t *testing.T) {
	assert.NoError(t, ValidatePath("testdata/noop.sh"))
	assert.NoError(t, ValidatePath("a/b/c.txt"))
}

func TestValidatePathRejectsDisallowedByte(t *testing.T) {
	assert.Error(t, ValidatePath("a b/c"))
}

func TestMustNamePanicsOnInvalid(t *testing.T) {
	assert.Panics(t, func() { MustName("") })
}

func TestMustPathPanicsOnAbsolute(t *testing.T) {
	assert.Panics(t, func() { MustPath("/tmp/x") })
}

func TestMustNameWithHeadroomReservesSpace(t *testing.T) {
	headroom := 4
	atLimit := strings.Repeat("a", MaxNameLength()-headroom)
	assert.NotPanics(t, func() { MustNameWithHeadroom(atLimit, headroom) })

	overLimit := strings.Repeat("a", MaxNameLength()-headroom+1)
	assert.Panics(t, func() { MustNameWithHeadroom(overLimit, headroom) })
}

func TestNameAndPathStringers(t *testing.T) {
	assert.Equal(t, "foo", Name("foo").String())
	assert.Equal(t, "a/b", Path("a/b").String())
}
