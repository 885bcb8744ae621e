package addrbook_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lonstack/ctrlnet/addrbook"
)

func TestFlexDomainIsWildcardPseudoIndex(t *testing.T) {
	b := addrbook.New(addrbook.DefaultAddressTableSize, 8)
	d, err := b.Domain(addrbook.FlexDomainIndex)
	require.NoError(t, err)
	require.Equal(t, uint8(0), d.Len)
	require.Equal(t, uint8(0), d.Subnet)
	require.Equal(t, uint8(0), d.Node)
}

func TestUpdateDomainPreservesKeyWhenNotIncluded(t *testing.T) {
	b := addrbook.New(addrbook.DefaultAddressTableSize, 8)
	key := [12]byte{1, 2, 3, 4, 5, 6}
	require.NoError(t, b.UpdateDomain(0, addrbook.DomainEntry{Len: 1, Subnet: 1, Node: 1, Key: key}, true))

	require.NoError(t, b.UpdateDomain(0, addrbook.DomainEntry{Len: 1, Subnet: 2, Node: 3}, false))
	d, err := b.Domain(0)
	require.NoError(t, err)
	require.Equal(t, uint8(2), d.Subnet)
	require.Equal(t, key, d.Key)
}

func TestGroupMembership(t *testing.T) {
	b := addrbook.New(4, 4)
	require.NoError(t, b.UpdateAddress(2, addrbook.AddressEntry{
		Kind: addrbook.AddrKindGroup, Group: 7, Member: 3, GroupSize: 5,
	}))
	member, ok := b.IsGroupMember(0, 7)
	require.True(t, ok)
	require.EqualValues(t, 3, member)

	idx, ok := b.FindGroupAddress(0, 7)
	require.True(t, ok)
	require.Equal(t, 2, idx)

	_, ok = b.IsGroupMember(0, 9)
	require.False(t, ok)
}

func TestNvSelectorValidation(t *testing.T) {
	b := addrbook.New(4, 4)
	require.NoError(t, b.UpdateNv(0, addrbook.NvConfig{
		Selector: addrbook.MaxBoundSelector, AddrIndex: 0, Length: 2,
	}))
	err := b.UpdateNv(1, addrbook.NvConfig{
		Selector: addrbook.MaxBoundSelector + 1, AddrIndex: 0, Length: 2,
	})
	require.ErrorIs(t, err, addrbook.ErrBoundSelectorTooBig)

	// unbound NV may use a selector above MaxBoundSelector but not above MaxSelector.
	require.NoError(t, b.UpdateNv(2, addrbook.NvConfig{
		Selector: addrbook.MaxSelector, AddrIndex: addrbook.NoAddrIndex, Length: 0,
	}))
	err = b.UpdateNv(3, addrbook.NvConfig{Selector: addrbook.MaxSelector + 1, AddrIndex: addrbook.NoAddrIndex})
	require.ErrorIs(t, err, addrbook.ErrSelectorOutOfRange)
}

func TestAliasResolvesToPrimary(t *testing.T) {
	b := addrbook.New(4, 2)
	require.NoError(t, b.UpdateNv(0, addrbook.NvConfig{Selector: 10, AddrIndex: addrbook.NoAddrIndex, Length: 2}))
	require.NoError(t, b.UpdateAlias(0, addrbook.NvAlias{Selector: 10, AddrIndex: addrbook.NoAddrIndex, Primary: 0}))

	primary, err := b.PrimaryOf(0)
	require.NoError(t, err)
	require.Equal(t, 0, primary)

	aliasAsGlobalIndex := b.NvTableSize() + 0
	primary, err = b.PrimaryOf(aliasAsGlobalIndex)
	require.NoError(t, err)
	require.Equal(t, 0, primary)
}

func TestTransmitTimerProgression(t *testing.T) {
	require.EqualValues(t, 16, addrbook.TransmitTimerMillis(0, false))
	require.EqualValues(t, 24, addrbook.TransmitTimerMillis(1, false))
	require.EqualValues(t, 32, addrbook.TransmitTimerMillis(2, false))
	require.EqualValues(t, 3072, addrbook.TransmitTimerMillis(15, false))
	require.EqualValues(t, 4096, addrbook.TransmitTimerMillis(0, true))
}
